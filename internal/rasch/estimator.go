// Package rasch estimates person abilities and item difficulties on a shared
// logit scale from an ordinal item-response matrix. Two estimators are
// provided: an iterative joint maximum-likelihood estimator (JMLE) and a
// closed-form normal-approximation estimator (PROX). The choice is explicit
// configuration; nothing is selected by runtime introspection.
//
// All measures are anchored so the mean included-item difficulty is zero.
// Re-running with a different item subset re-anchors the scale, so item and
// person parameters are mutually consistent only within one estimation run.
package rasch

import (
	"fmt"
	"math"

	"github.com/victoria-analytics/traitmeter/internal/mapper"
)

// Estimator kinds selectable by configuration.
const (
	KindJMLE = "jmle"
	KindPROX = "prox"
)

// ItemParameter holds one item's estimated difficulty and fit diagnostics.
// Immutable after the estimation run that produced it.
type ItemParameter struct {
	ItemID         string  `json:"item_id"`
	Difficulty     float64 `json:"difficulty"`
	ValidResponses int     `json:"valid_responses"`
	Infit          float64 `json:"infit"`
	Outfit         float64 `json:"outfit"`
	Excluded       bool    `json:"excluded,omitempty"`
	ExcludedReason string  `json:"excluded_reason,omitempty"`
}

// PersonMeasure holds one person's estimated ability on the run's logit scale.
type PersonMeasure struct {
	PersonID       string  `json:"person_id"`
	Ability        float64 `json:"ability"`
	StdError       float64 `json:"std_error"`
	Converged      bool    `json:"converged"`
	ValidResponses int     `json:"valid_responses"`
	Infit          float64 `json:"infit"`
	Outfit         float64 `json:"outfit"`
	Excluded       bool    `json:"excluded,omitempty"`
	ExcludedReason string  `json:"excluded_reason,omitempty"`
}

// Summary aggregates run-level statistics for reporting.
type Summary struct {
	Persons        int     `json:"persons"`
	Items          int     `json:"items"`
	MeanAbility    float64 `json:"mean_ability"`
	SDAbility      float64 `json:"sd_ability"`
	MinAbility     float64 `json:"min_ability"`
	MaxAbility     float64 `json:"max_ability"`
	MeanDifficulty float64 `json:"mean_difficulty"`
	SDDifficulty   float64 `json:"sd_difficulty"`
	MinDifficulty  float64 `json:"min_difficulty"`
	MaxDifficulty  float64 `json:"max_difficulty"`
	// Separation is the person separation reliability: the share of observed
	// ability variance not attributable to measurement error. Zero when it
	// cannot be computed.
	Separation float64 `json:"separation"`
}

// Result is the output of one estimation run. Items and Persons are ordered as
// in the input matrix, excluded entries included (flagged, never silently
// dropped).
type Result struct {
	Items      []ItemParameter `json:"items"`
	Persons    []PersonMeasure `json:"persons"`
	Converged  bool            `json:"converged"`
	Iterations int             `json:"iterations"`
	Summary    Summary         `json:"summary"`
}

// Measure returns the item-level logit contribution for (person, item): the
// person's ability minus the item's difficulty.
func (r *Result) Measure(person, item int) float64 {
	return r.Persons[person].Ability - r.Items[item].Difficulty
}

// ResponseMeasure returns the response-adjusted logit for (person, item): the
// base measure shifted by the observed category, so two persons with equal
// abilities but different answers on an item get different cell measures.
func (r *Result) ResponseMeasure(person, item, code, levels int) float64 {
	return r.Measure(person, item) + CategoryShift(code, levels)
}

// CategoryShift maps an observed ordinal code onto a logit shift: half a
// logit per category step from the scale midpoint, with an extra half logit
// penalty at the floor category. For a 5-level scale the shifts are -1.5,
// -0.5, 0.0, +0.5, +1.0.
func CategoryShift(code, levels int) float64 {
	if levels <= 1 {
		return 0
	}
	mid := float64(levels-1) / 2
	shift := 0.5 * (float64(code) - mid)
	if code == 0 {
		shift -= 0.5
	}
	return shift
}

// Config controls the estimation procedure.
type Config struct {
	// Tolerance is the maximum parameter change, in logits, below which the
	// run is declared converged.
	Tolerance float64
	// MaxIterations caps the alternating estimation loop. Reaching the cap
	// marks the run non-converged; best-available estimates are still
	// returned.
	MaxIterations int
	// MinResponses is the minimum observed responses a person or item needs
	// to be included in estimation. Entities below it are excluded and
	// flagged, never imputed.
	MinResponses int
}

// DefaultConfig returns the standard estimation settings.
func DefaultConfig() Config {
	return Config{
		Tolerance:     0.001,
		MaxIterations: 50,
		MinResponses:  2,
	}
}

// Estimator produces logit measures from an item-response matrix.
type Estimator interface {
	Estimate(m *mapper.ItemResponseMatrix) (*Result, error)
}

// New returns the configured estimator implementation.
func New(kind string, cfg Config) (Estimator, error) {
	switch kind {
	case KindJMLE, "":
		return &JMLEEstimator{cfg: cfg}, nil
	case KindPROX:
		return &PROXEstimator{cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("unknown estimator kind %q", kind)
	}
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

// logit with clamping so degenerate proportions stay finite.
func logit(p float64) float64 {
	const eps = 0.01
	if p < eps {
		p = eps
	}
	if p > 1-eps {
		p = 1 - eps
	}
	return math.Log(p / (1 - p))
}

// fraction maps an ordinal code onto [0,1] relative to the scale maximum.
func fraction(code, levels int) float64 {
	if levels <= 1 {
		return 0
	}
	return float64(code) / float64(levels-1)
}

func meanSD(xs []float64) (mean, sd float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, v := range xs {
		mean += v
	}
	mean /= float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var ss float64
	for _, v := range xs {
		d := v - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)-1))
}

func minMax(xs []float64) (lo, hi float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	lo, hi = xs[0], xs[0]
	for _, v := range xs[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

func summarize(result *Result) Summary {
	var abilities, difficulties []float64
	var meanSquaredError float64
	for _, p := range result.Persons {
		if !p.Excluded {
			abilities = append(abilities, p.Ability)
			meanSquaredError += p.StdError * p.StdError
		}
	}
	for _, it := range result.Items {
		if !it.Excluded {
			difficulties = append(difficulties, it.Difficulty)
		}
	}
	meanA, sdA := meanSD(abilities)
	meanB, sdB := meanSD(difficulties)
	minA, maxA := minMax(abilities)
	minB, maxB := minMax(difficulties)

	var separation float64
	if n := len(abilities); n > 1 && sdA > 0 {
		meanSquaredError /= float64(n)
		if observed := sdA * sdA; observed > meanSquaredError {
			separation = (observed - meanSquaredError) / observed
		}
	}

	return Summary{
		Persons:        len(abilities),
		Items:          len(difficulties),
		MeanAbility:    meanA,
		SDAbility:      sdA,
		MinAbility:     minA,
		MaxAbility:     maxA,
		MeanDifficulty: meanB,
		SDDifficulty:   sdB,
		MinDifficulty:  minB,
		MaxDifficulty:  maxB,
		Separation:     separation,
	}
}
