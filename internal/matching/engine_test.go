package matching

import (
	"testing"
	"time"

	"github.com/example/fleet-dispatch/internal/models"
)

func ratingPtr(v float64) *float64 { return &v }

func testJob() models.Job {
	return models.Job{
		ID:              "job1",
		Status:          models.JobDraft,
		Pickup:          models.Location{Coord: models.Coord{Lat: 0, Lon: 0}},
		RequiredVehicle: models.VehicleCar,
	}
}

func testRules() models.AutoAssignRules {
	r := models.DefaultRules()
	r.RadiusMeters = 10000
	return r
}

func driverAt(id string, lat, lon float64) models.Driver {
	return models.Driver{
		ID:           id,
		Availability: models.DriverOnline,
		Account:      models.AccountActive,
		Position:     &models.Coord{Lat: lat, Lon: lon},
		Vehicle:      models.VehicleCar,
		RegisteredAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRankCloserDriverWins(t *testing.T) {
	job := testJob()
	rules := testRules()
	near := driverAt("near", 0.01, 0) // ~1.1km
	far := driverAt("far", 0.05, 0)   // ~5.6km
	near.Rating = ratingPtr(4.0)
	far.Rating = ratingPtr(4.0)

	ranked := Rank(job, []models.Driver{far, near}, rules)
	if len(ranked) != 2 {
		t.Fatalf("expected 2 ranked, got %d", len(ranked))
	}
	if ranked[0].Driver.ID != "near" {
		t.Fatalf("expected near first, got %s", ranked[0].Driver.ID)
	}
}

func TestRankDeterministic(t *testing.T) {
	job := testJob()
	rules := testRules()
	drivers := []models.Driver{
		driverAt("a", 0.02, 0),
		driverAt("b", 0.01, 0.01),
		driverAt("c", 0, 0.02),
	}
	drivers[0].Rating = ratingPtr(4.2)
	drivers[1].Rating = ratingPtr(4.8)
	drivers[2].CompletedJobs = 30

	first := Rank(job, drivers, rules)
	for i := 0; i < 10; i++ {
		again := Rank(job, drivers, rules)
		for j := range first {
			if first[j].Driver.ID != again[j].Driver.ID {
				t.Fatalf("run %d: order changed at %d: %s vs %s", i, j, first[j].Driver.ID, again[j].Driver.ID)
			}
			if first[j].Score != again[j].Score {
				t.Fatalf("run %d: score changed for %s", i, again[j].Driver.ID)
			}
		}
	}
}

func TestRankTieBreaksByRatingThenLoad(t *testing.T) {
	job := testJob()
	rules := testRules()
	// zero all weights so every score is 0 and only tie-breaks decide
	rules.Weights = models.Weights{}

	lowRated := driverAt("low", 0.01, 0)
	lowRated.Rating = ratingPtr(3.5)
	highRated := driverAt("high", 0.02, 0)
	highRated.Rating = ratingPtr(4.9)

	ranked := Rank(job, []models.Driver{lowRated, highRated}, rules)
	if ranked[0].Driver.ID != "high" {
		t.Fatalf("expected rating tie-break, got %s first", ranked[0].Driver.ID)
	}

	busy := driverAt("busy", 0.01, 0)
	busy.Rating = ratingPtr(4.0)
	busy.ActiveAssignments = 2
	idle := driverAt("idle", 0.02, 0)
	idle.Rating = ratingPtr(4.0)

	ranked = Rank(job, []models.Driver{busy, idle}, rules)
	if ranked[0].Driver.ID != "idle" {
		t.Fatalf("expected load tie-break, got %s first", ranked[0].Driver.ID)
	}
}

func TestRankTieBreakRegistrationThenID(t *testing.T) {
	job := testJob()
	rules := testRules()
	rules.Weights = models.Weights{}

	older := driverAt("zz", 0.01, 0)
	older.RegisteredAt = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := driverAt("aa", 0.01, 0)
	newer.RegisteredAt = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	ranked := Rank(job, []models.Driver{newer, older}, rules)
	if ranked[0].Driver.ID != "zz" {
		t.Fatalf("expected earliest registration first, got %s", ranked[0].Driver.ID)
	}

	// identical except id: lexicographic id decides
	twinA := driverAt("aa", 0.01, 0)
	twinB := driverAt("bb", 0.01, 0)
	ranked = Rank(job, []models.Driver{twinB, twinA}, rules)
	if ranked[0].Driver.ID != "aa" {
		t.Fatalf("expected id tie-break, got %s", ranked[0].Driver.ID)
	}
}

func TestNoRatingScoresNeutral(t *testing.T) {
	rules := testRules()
	unrated := driverAt("new", 0, 0)
	if got := ratingScore(unrated, rules); got != rules.NeutralRatingScore {
		t.Fatalf("expected neutral %v, got %v", rules.NeutralRatingScore, got)
	}
	rated := driverAt("vet", 0, 0)
	rated.Rating = ratingPtr(4.0)
	if got := ratingScore(rated, rules); got != 0.8 {
		t.Fatalf("expected 0.8, got %v", got)
	}
}

func TestExperienceScoreSaturates(t *testing.T) {
	rules := testRules()
	rules.ExperienceCeiling = 50

	d := driverAt("d", 0, 0)
	d.CompletedJobs = 25
	if got := experienceScore(d, rules); got != 0.5 {
		t.Fatalf("expected 0.5, got %v", got)
	}
	d.CompletedJobs = 500
	if got := experienceScore(d, rules); got != 1.0 {
		t.Fatalf("expected saturation at 1.0, got %v", got)
	}
}

func TestLoadScoreBiasesIdleDrivers(t *testing.T) {
	rules := testRules()
	rules.MaxJobs = 4

	idle := driverAt("idle", 0, 0)
	busy := driverAt("busy", 0, 0)
	busy.ActiveAssignments = 3

	if li, lb := loadScore(idle, rules), loadScore(busy, rules); li <= lb {
		t.Fatalf("expected idle %v > busy %v", li, lb)
	}
}

func TestDistanceScoreClamped(t *testing.T) {
	job := testJob()
	rules := testRules()
	rules.RadiusMeters = 1000

	outside := driverAt("out", 1, 1) // far outside radius
	if got := distanceScore(outside, job, rules); got != 0 {
		t.Fatalf("expected clamp to 0, got %v", got)
	}
	atPickup := driverAt("at", 0, 0)
	if got := distanceScore(atPickup, job, rules); got != 1 {
		t.Fatalf("expected 1 at pickup, got %v", got)
	}
	noPos := driverAt("none", 0, 0)
	noPos.Position = nil
	if got := distanceScore(noPos, job, rules); got != 0 {
		t.Fatalf("expected 0 without position, got %v", got)
	}
}
