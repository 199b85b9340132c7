package models

import "fmt"

// Weights controls the relative importance of each normalized sub-score in
// candidate ranking. Weights are non-negative; they do not need to sum to 1.
type Weights struct {
	Distance   float64 `json:"distance"`
	Rating     float64 `json:"rating"`
	Experience float64 `json:"experience"`
	Load       float64 `json:"load"`
}

// AutoAssignRules is the process-wide matching configuration. It is read by
// every dispatch cycle and mutated only through the admin rules update.
type AutoAssignRules struct {
	RadiusMeters float64 `json:"radius_meters"`
	MinRating    float64 `json:"min_rating"`
	MaxJobs      int     `json:"max_jobs"`
	// VehicleFilter, when set, additionally requires candidates to hold at
	// least this class even if the job itself asks for less.
	VehicleFilter VehicleClass `json:"vehicle_filter,omitempty"`
	Weights       Weights      `json:"weights"`
	// NeutralRatingScore is the ratingScore granted to drivers with no
	// rating history. Business has not confirmed the value; 0.6 is the
	// agreed working default.
	NeutralRatingScore float64 `json:"neutral_rating_score"`
	// ExperienceCeiling is the completed-job count at which the experience
	// sub-score saturates at 1.0.
	ExperienceCeiling int `json:"experience_ceiling"`
}

// DefaultRules returns the configuration used until an operator overrides it.
func DefaultRules() AutoAssignRules {
	return AutoAssignRules{
		RadiusMeters:       10000,
		MinRating:          3.0,
		MaxJobs:            3,
		Weights:            Weights{Distance: 0.4, Rating: 0.25, Experience: 0.15, Load: 0.2},
		NeutralRatingScore: 0.6,
		ExperienceCeiling:  50,
	}
}

func (r AutoAssignRules) Validate() error {
	if r.RadiusMeters <= 0 {
		return fmt.Errorf("radius_meters must be > 0, got %v", r.RadiusMeters)
	}
	if r.MinRating < 0 || r.MinRating > 5 {
		return fmt.Errorf("min_rating must be within [0,5], got %v", r.MinRating)
	}
	if r.MaxJobs <= 0 {
		return fmt.Errorf("max_jobs must be > 0, got %d", r.MaxJobs)
	}
	if r.VehicleFilter != 0 && !r.VehicleFilter.IsValid() {
		return fmt.Errorf("unknown vehicle_filter %d", r.VehicleFilter)
	}
	for _, w := range []struct {
		name string
		v    float64
	}{
		{"distance", r.Weights.Distance},
		{"rating", r.Weights.Rating},
		{"experience", r.Weights.Experience},
		{"load", r.Weights.Load},
	} {
		if w.v < 0 {
			return fmt.Errorf("weight %s must be >= 0, got %v", w.name, w.v)
		}
	}
	if r.NeutralRatingScore < 0 || r.NeutralRatingScore > 1 {
		return fmt.Errorf("neutral_rating_score must be within [0,1], got %v", r.NeutralRatingScore)
	}
	if r.ExperienceCeiling <= 0 {
		return fmt.Errorf("experience_ceiling must be > 0, got %d", r.ExperienceCeiling)
	}
	return nil
}
