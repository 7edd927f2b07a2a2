package traits

import (
	"fmt"

	"github.com/victoria-analytics/traitmeter/internal/errors"
	"github.com/victoria-analytics/traitmeter/internal/mapper"
	"github.com/victoria-analytics/traitmeter/internal/rasch"
)

// PercentileMode selects the distribution percentiles are ranked against. The
// mode is resolved once per run and never inferred from data shape: population
// percentiles move when the batch changes, reference percentiles are stable
// across runs, and mixing the two is a correctness bug.
type PercentileMode string

const (
	// ModePopulation ranks each person against the batch being scored.
	ModePopulation PercentileMode = "population"
	// ModeReference ranks against the fixed distribution table shipped with
	// the trait definition.
	ModeReference PercentileMode = "reference"
)

// Band labels derived from percentile breakpoints.
const (
	BandLow         = "low"
	BandModerate    = "moderate"
	BandHigh        = "high"
	BandVeryHigh    = "very high"
	BandUnscoreable = "unscoreable"
)

// Breakpoints are the percentile thresholds separating bands. They are
// configuration, not per-caller constants.
type Breakpoints struct {
	Low      float64 `yaml:"low"`       // below → low
	High     float64 `yaml:"high"`      // above → high
	VeryHigh float64 `yaml:"very_high"` // above → very high
}

// DefaultBreakpoints returns the standard band thresholds.
func DefaultBreakpoints() Breakpoints {
	return Breakpoints{Low: 25, High: 75, VeryHigh: 90}
}

// Band maps a percentile onto its qualitative label.
func (b Breakpoints) Band(percentile float64) string {
	switch {
	case percentile < b.Low:
		return BandLow
	case percentile <= b.High:
		return BandModerate
	case percentile <= b.VeryHigh:
		return BandHigh
	default:
		return BandVeryHigh
	}
}

// TraitScore is one person's result on one trait. Owned by the profile that
// contains it; never shared across persons.
type TraitScore struct {
	Trait       string  `json:"trait"`
	RawLogit    float64 `json:"raw_logit"`
	Percentile  float64 `json:"percentile"`
	Band        string  `json:"band"`
	Items       int     `json:"items"`
	Unscoreable bool    `json:"unscoreable,omitempty"`
}

// PersonTraits is one person's ordered trait scores.
type PersonTraits struct {
	PersonID string       `json:"person_id"`
	Scores   []TraitScore `json:"scores"`
}

// Vector returns the ordered percentile vector clustering operates on, and
// false if any trait is unscoreable (such persons cannot be clustered).
func (pt PersonTraits) Vector() ([]float64, bool) {
	vec := make([]float64, len(pt.Scores))
	for i, s := range pt.Scores {
		if s.Unscoreable {
			return nil, false
		}
		vec[i] = s.Percentile
	}
	return vec, true
}

// Config controls scoring behavior for one run.
type Config struct {
	Mode        PercentileMode
	Breakpoints Breakpoints
}

// DefaultConfig scores population-relative with standard breakpoints.
func DefaultConfig() Config {
	return Config{Mode: ModePopulation, Breakpoints: DefaultBreakpoints()}
}

// Scorer aggregates item-level measures into per-trait scores.
type Scorer struct {
	def *Definition
	cfg Config
}

// NewScorer validates the mode against the definition: reference mode needs a
// reference distribution for every trait.
func NewScorer(def *Definition, cfg Config) (*Scorer, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModePopulation
	}
	if cfg.Mode != ModePopulation && cfg.Mode != ModeReference {
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("unknown percentile mode %q", cfg.Mode), nil)
	}
	if cfg.Mode == ModeReference {
		for _, trait := range def.Traits {
			if len(def.Reference[trait.Name]) == 0 {
				return nil, errors.NewConfigurationError(
					fmt.Sprintf("reference percentile mode requires a distribution for trait %q", trait.Name), nil)
			}
		}
	}
	return &Scorer{def: def, cfg: cfg}, nil
}

// Mode returns the percentile mode resolved for this run.
func (s *Scorer) Mode() PercentileMode { return s.cfg.Mode }

// Score computes every person's trait scores from one estimation run's output.
// A trait with zero valid responses for a person is reported unscoreable with
// a recorded InsufficientDataError; it is never defaulted to a numeric
// placeholder. The returned warnings never abort the batch.
func (s *Scorer) Score(m *mapper.ItemResponseMatrix, est *rasch.Result) ([]PersonTraits, []*errors.AppError) {
	var warnings []*errors.AppError

	// Column lookup per trait, restricted to items present in this matrix.
	type traitItems struct {
		cols    []int
		reverse []bool
		weights []float64
	}
	perTrait := make([]traitItems, len(s.def.Traits))
	for t, trait := range s.def.Traits {
		for _, itemID := range trait.Items {
			col := m.ItemIndex(itemID)
			if col < 0 || est.Items[col].Excluded {
				continue
			}
			perTrait[t].cols = append(perTrait[t].cols, col)
			perTrait[t].reverse = append(perTrait[t].reverse, s.def.IsReverse(itemID))
			// Items estimated from more responses carry more weight.
			perTrait[t].weights = append(perTrait[t].weights, float64(est.Items[col].ValidResponses))
		}
	}

	all := make([]PersonTraits, len(m.PersonIDs))
	for p, personID := range m.PersonIDs {
		scores := make([]TraitScore, len(s.def.Traits))
		for t, trait := range s.def.Traits {
			scores[t] = TraitScore{Trait: trait.Name, Band: BandUnscoreable, Unscoreable: true}
			if est.Persons[p].Excluded {
				continue
			}

			var sum, weightSum float64
			var n int
			for k, col := range perTrait[t].cols {
				code, ok := m.Response(p, col)
				if !ok {
					continue
				}
				measure := est.ResponseMeasure(p, col, code, m.Levels)
				if perTrait[t].reverse[k] {
					measure = -measure
				}
				w := perTrait[t].weights[k]
				sum += w * measure
				weightSum += w
				n++
			}
			if n == 0 {
				warnings = append(warnings, errors.NewInsufficientDataError(
					fmt.Sprintf("person %s / trait %s", personID, trait.Name),
					"no valid responses across the trait's items"))
				continue
			}
			scores[t] = TraitScore{
				Trait:    trait.Name,
				RawLogit: sum / weightSum,
				Items:    n,
			}
		}
		if est.Persons[p].Excluded {
			warnings = append(warnings, errors.NewInsufficientDataError(
				fmt.Sprintf("person %s", personID),
				"excluded from estimation; all traits unscoreable"))
		}
		all[p] = PersonTraits{PersonID: personID, Scores: scores}
	}

	s.assignPercentiles(all)
	return all, warnings
}

// assignPercentiles fills percentile and band for every scoreable trait score,
// ranking per the configured mode.
func (s *Scorer) assignPercentiles(all []PersonTraits) {
	for t, trait := range s.def.Traits {
		var population []float64
		if s.cfg.Mode == ModePopulation {
			for p := range all {
				if !all[p].Scores[t].Unscoreable {
					population = append(population, all[p].Scores[t].RawLogit)
				}
			}
		} else {
			population = s.def.Reference[trait.Name]
		}

		for p := range all {
			score := &all[p].Scores[t]
			if score.Unscoreable {
				continue
			}
			score.Percentile = percentileRank(score.RawLogit, population)
			score.Band = s.cfg.Breakpoints.Band(score.Percentile)
		}
	}
}

// percentileRank is the midrank percentile of value within sample, in [0,100].
func percentileRank(value float64, sample []float64) float64 {
	if len(sample) == 0 {
		return 50
	}
	below, equal := 0, 0
	for _, v := range sample {
		switch {
		case v < value:
			below++
		case v == value:
			equal++
		}
	}
	return 100 * (float64(below) + 0.5*float64(equal)) / float64(len(sample))
}
