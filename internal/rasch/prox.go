package rasch

import (
	"fmt"
	"math"

	"github.com/victoria-analytics/traitmeter/internal/errors"
	"github.com/victoria-analytics/traitmeter/internal/mapper"
)

// PROXEstimator is the closed-form normal-approximation alternative to JMLE.
// It assumes abilities and difficulties are roughly normally distributed and
// corrects raw logits with the classic PROX expansion factors. It is cheaper
// and order-preserving but less exact than the iterative estimator; callers
// opt into it explicitly via configuration.
type PROXEstimator struct {
	cfg Config
}

// NewPROX returns a normal-approximation estimator.
func NewPROX(cfg Config) *PROXEstimator { return &PROXEstimator{cfg: cfg} }

func (e *PROXEstimator) Estimate(m *mapper.ItemResponseMatrix) (*Result, error) {
	nP := len(m.PersonIDs)
	nI := len(m.ItemIDs)

	x := make([][]float64, nP)
	observed := make([][]bool, nP)
	for p := 0; p < nP; p++ {
		x[p] = make([]float64, nI)
		observed[p] = make([]bool, nI)
		for i := 0; i < nI; i++ {
			if code, ok := m.Response(p, i); ok {
				x[p][i] = fraction(code, m.Levels)
				observed[p][i] = true
			}
		}
	}

	result := &Result{
		Items:   make([]ItemParameter, nI),
		Persons: make([]PersonMeasure, nP),
	}
	inclP := make([]bool, nP)
	inclI := make([]bool, nI)
	includedItems := 0
	for p := 0; p < nP; p++ {
		n := m.RowValidCount(p)
		result.Persons[p] = PersonMeasure{PersonID: m.PersonIDs[p], ValidResponses: n}
		if n >= e.cfg.MinResponses {
			inclP[p] = true
		} else {
			result.Persons[p].Excluded = true
			result.Persons[p].ExcludedReason = fmt.Sprintf("fewer than %d valid responses", e.cfg.MinResponses)
		}
	}
	for i := 0; i < nI; i++ {
		n := m.ColumnValidCount(i)
		result.Items[i] = ItemParameter{ItemID: m.ItemIDs[i], ValidResponses: n}
		if n >= e.cfg.MinResponses {
			inclI[i] = true
			includedItems++
		} else {
			result.Items[i].Excluded = true
			result.Items[i].ExcludedReason = fmt.Sprintf("fewer than %d valid responses", e.cfg.MinResponses)
		}
	}
	if includedItems < 2 {
		return nil, errors.NewDataFormatError(
			"fewer than 2 items have enough responses for estimation",
			map[string]string{"included_items": fmt.Sprintf("%d", includedItems)})
	}

	// Raw logits from observed proportions.
	personLogit := make([]float64, nP)
	personFrac := make([]float64, nP)
	itemLogit := make([]float64, nI)
	var itemLogits, personLogits []float64
	for p := 0; p < nP; p++ {
		if !inclP[p] {
			continue
		}
		var sum float64
		var n int
		for i := 0; i < nI; i++ {
			if inclI[i] && observed[p][i] {
				sum += x[p][i]
				n++
			}
		}
		personFrac[p] = sum / float64(n)
		personLogit[p] = logit(personFrac[p])
		personLogits = append(personLogits, personLogit[p])
	}
	for i := 0; i < nI; i++ {
		if !inclI[i] {
			continue
		}
		var sum float64
		var n int
		for p := 0; p < nP; p++ {
			if inclP[p] && observed[p][i] {
				sum += x[p][i]
				n++
			}
		}
		itemLogit[i] = -logit(sum / float64(n))
		itemLogits = append(itemLogits, itemLogit[i])
	}

	// Center item logits so the difficulty anchor matches the JMLE scale.
	meanItem, sdItem := meanSD(itemLogits)
	for i := 0; i < nI; i++ {
		if inclI[i] {
			itemLogit[i] -= meanItem
		}
	}
	_, sdPerson := meanSD(personLogits)

	// PROX expansion factors; the 2.9 and 8.35 constants come from the normal
	// approximation of the logistic ogive.
	u := sdItem * sdItem
	v := sdPerson * sdPerson
	denom := 1 - u*v/8.35
	if denom < 0.1 {
		denom = 0.1
	}
	personExpansion := math.Sqrt((1 + u/2.9) / denom)
	itemExpansion := math.Sqrt((1 + v/2.9) / denom)

	for i := 0; i < nI; i++ {
		if inclI[i] {
			result.Items[i].Difficulty = clamp(itemExpansion*itemLogit[i], -maxParam, maxParam)
		}
	}
	for p := 0; p < nP; p++ {
		if !inclP[p] {
			continue
		}
		result.Persons[p].Ability = clamp(personExpansion*personLogit[p], -maxParam, maxParam)
		result.Persons[p].Converged = true

		frac := clamp(personFrac[p], 0.05, 0.95)
		n := float64(result.Persons[p].ValidResponses)
		result.Persons[p].StdError = personExpansion / math.Sqrt(n*frac*(1-frac))
	}

	computeFit(result, x, observed, inclP, inclI)
	result.Converged = true
	result.Iterations = 1
	result.Summary = summarize(result)
	return result, nil
}
