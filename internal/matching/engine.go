// Package matching computes the ranked candidate list for a job. Rank is a
// pure function of its inputs so the same snapshot and rules always produce
// the same ordering, which keeps selection auditable and unit-testable.
package matching

import (
	"sort"

	"github.com/example/fleet-dispatch/internal/geo"
	"github.com/example/fleet-dispatch/internal/models"
)

// Breakdown carries the normalized sub-scores behind a candidate's total,
// for "why was driver X selected/skipped" logging.
type Breakdown struct {
	Distance   float64 `json:"distance"`
	Rating     float64 `json:"rating"`
	Experience float64 `json:"experience"`
	Load       float64 `json:"load"`
}

type RankedDriver struct {
	Driver    models.Driver `json:"driver"`
	Score     float64       `json:"score"`
	Breakdown Breakdown     `json:"breakdown"`
}

// Rank scores the candidates for the job and returns them best first.
// Candidates are assumed to have passed the eligibility filter already;
// ranking only orders them. Ties break by higher rating, then lower current
// load, then earliest registration, then id, so the ordering is total and
// reproducible.
func Rank(job models.Job, candidates []models.Driver, rules models.AutoAssignRules) []RankedDriver {
	out := make([]RankedDriver, 0, len(candidates))
	for _, d := range candidates {
		b := breakdown(d, job, rules)
		score := rules.Weights.Distance*b.Distance +
			rules.Weights.Rating*b.Rating +
			rules.Weights.Experience*b.Experience +
			rules.Weights.Load*b.Load
		out = append(out, RankedDriver{Driver: d, Score: score, Breakdown: b})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		ra, rb := effectiveRating(a.Driver, rules), effectiveRating(b.Driver, rules)
		if ra != rb {
			return ra > rb
		}
		if a.Driver.ActiveAssignments != b.Driver.ActiveAssignments {
			return a.Driver.ActiveAssignments < b.Driver.ActiveAssignments
		}
		if !a.Driver.RegisteredAt.Equal(b.Driver.RegisteredAt) {
			return a.Driver.RegisteredAt.Before(b.Driver.RegisteredAt)
		}
		return a.Driver.ID < b.Driver.ID
	})
	return out
}

func breakdown(d models.Driver, job models.Job, rules models.AutoAssignRules) Breakdown {
	return Breakdown{
		Distance:   distanceScore(d, job, rules),
		Rating:     ratingScore(d, rules),
		Experience: experienceScore(d, rules),
		Load:       loadScore(d, rules),
	}
}

// distanceScore is 1 at the pickup and 0 at the search radius, clamped.
func distanceScore(d models.Driver, job models.Job, rules models.AutoAssignRules) float64 {
	if d.Position == nil || rules.RadiusMeters <= 0 {
		return 0
	}
	dist := geo.Distance(*d.Position, job.Pickup.Coord)
	return clamp01(1 - dist/rules.RadiusMeters)
}

// ratingScore maps stars to [0,1]; no history scores the configured neutral
// default rather than 0, so new drivers are not frozen out.
func ratingScore(d models.Driver, rules models.AutoAssignRules) float64 {
	if d.Rating == nil {
		return clamp01(rules.NeutralRatingScore)
	}
	return clamp01(*d.Rating / 5)
}

// experienceScore grows with completed jobs and saturates at the configured
// ceiling.
func experienceScore(d models.Driver, rules models.AutoAssignRules) float64 {
	if rules.ExperienceCeiling <= 0 {
		return 0
	}
	return clamp01(float64(d.CompletedJobs) / float64(rules.ExperienceCeiling))
}

// loadScore biases distribution across the fleet: drivers nearer their cap
// score lower.
func loadScore(d models.Driver, rules models.AutoAssignRules) float64 {
	if rules.MaxJobs <= 0 {
		return 0
	}
	return clamp01(1 - float64(d.ActiveAssignments)/float64(rules.MaxJobs))
}

// effectiveRating is the star value used for tie-breaking; unrated drivers
// compare at their neutral equivalent.
func effectiveRating(d models.Driver, rules models.AutoAssignRules) float64 {
	if d.Rating == nil {
		return rules.NeutralRatingScore * 5
	}
	return *d.Rating
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
