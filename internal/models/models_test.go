package models

import "testing"

func TestVehicleClassCanServe(t *testing.T) {
	cases := []struct {
		have, need VehicleClass
		want       bool
	}{
		{VehicleLargeVan, VehicleSmallVan, true},
		{VehicleLargeVan, VehicleLargeVan, true},
		{VehicleMediumVan, VehicleLargeVan, false},
		{VehicleMotorbike, VehicleCar, false},
		{VehicleTruck, VehicleMotorbike, true},
	}
	for _, tc := range cases {
		if got := tc.have.CanServe(tc.need); got != tc.want {
			t.Fatalf("%s serves %s: got %v, want %v", tc.have, tc.need, got, tc.want)
		}
	}
}

func TestParseVehicleClassRoundTrip(t *testing.T) {
	for _, v := range []VehicleClass{VehicleMotorbike, VehicleCar, VehicleSmallVan, VehicleMediumVan, VehicleLargeVan, VehicleTruck} {
		got, ok := ParseVehicleClass(v.String())
		if !ok || got != v {
			t.Fatalf("round trip %s: got %v %v", v, got, ok)
		}
	}
	if _, ok := ParseVehicleClass("hovercraft"); ok {
		t.Fatalf("unknown name must not parse")
	}
}

func TestJobStatusTerminal(t *testing.T) {
	for _, s := range []JobStatus{JobDraft, JobConfirmed, JobInProgress, JobPickedUp, JobInTransit} {
		if s.Terminal() {
			t.Fatalf("%s must not be terminal", s)
		}
	}
	for _, s := range []JobStatus{JobCompleted, JobCancelled} {
		if !s.Terminal() {
			t.Fatalf("%s must be terminal", s)
		}
	}
}

func TestRulesValidate(t *testing.T) {
	if err := DefaultRules().Validate(); err != nil {
		t.Fatalf("default rules must validate: %v", err)
	}

	mutate := func(f func(*AutoAssignRules)) AutoAssignRules {
		r := DefaultRules()
		f(&r)
		return r
	}
	bad := []struct {
		name  string
		rules AutoAssignRules
	}{
		{"zero radius", mutate(func(r *AutoAssignRules) { r.RadiusMeters = 0 })},
		{"rating out of range", mutate(func(r *AutoAssignRules) { r.MinRating = 5.5 })},
		{"zero max jobs", mutate(func(r *AutoAssignRules) { r.MaxJobs = 0 })},
		{"unknown vehicle filter", mutate(func(r *AutoAssignRules) { r.VehicleFilter = 99 })},
		{"negative weight", mutate(func(r *AutoAssignRules) { r.Weights.Load = -0.1 })},
		{"neutral score out of range", mutate(func(r *AutoAssignRules) { r.NeutralRatingScore = 1.5 })},
		{"zero experience ceiling", mutate(func(r *AutoAssignRules) { r.ExperienceCeiling = 0 })},
	}
	for _, tc := range bad {
		if err := tc.rules.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestDispatchable(t *testing.T) {
	d := Driver{Account: AccountActive, Availability: DriverOnline}
	if !d.Dispatchable() {
		t.Fatalf("active online driver must be dispatchable")
	}
	d.Availability = DriverOnBreak
	if d.Dispatchable() {
		t.Fatalf("driver on break must not be dispatchable")
	}
	d.Availability = DriverOnline
	d.Account = AccountSuspended
	if d.Dispatchable() {
		t.Fatalf("suspended driver must not be dispatchable")
	}
}
