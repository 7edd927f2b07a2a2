package rasch

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/victoria-analytics/traitmeter/internal/errors"
	"github.com/victoria-analytics/traitmeter/internal/mapper"
)

// JMLEEstimator alternates Newton-Raphson updates of item difficulties and
// person abilities on the logistic likelihood until the largest parameter
// change falls below the tolerance or the iteration cap is reached. Hitting
// the cap marks the run non-converged; best-available estimates are returned,
// never discarded.
type JMLEEstimator struct {
	cfg Config
}

// NewJMLE returns a joint maximum-likelihood estimator.
func NewJMLE(cfg Config) *JMLEEstimator { return &JMLEEstimator{cfg: cfg} }

const (
	maxNewtonStep = 1.0  // logits per iteration, keeps extreme cells stable
	maxParam      = 10.0 // hard clamp on any single parameter
	// extremeAdjust shrinks perfect and zero raw scores toward the interior so
	// maximum-likelihood estimates stay finite.
	extremeAdjust = 0.3
)

func (e *JMLEEstimator) Estimate(m *mapper.ItemResponseMatrix) (*Result, error) {
	nP := len(m.PersonIDs)
	nI := len(m.ItemIDs)

	// Fractional scores: ordinal code relative to the scale maximum. Missing
	// cells carry zero likelihood weight and are simply skipped.
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
	includedItems := 0
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

	theta := make([]float64, nP)
	b := make([]float64, nI)
	rowTarget := make([]float64, nP) // adjusted sum of observed fractions per person
	colTarget := make([]float64, nI)

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
		rowTarget[p] = adjustExtreme(sum, float64(n))
		theta[p] = logit(sum / float64(n))
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
		colTarget[i] = adjustExtreme(sum, float64(n))
		// High mean score means an easy item: difficulty is the inverse logit.
		b[i] = -logit(sum / float64(n))
	}

	// Alternating estimation. Each half-iteration is data-parallel given the
	// other parameter set fixed, with a barrier between the two phases.
	converged := false
	iterations := 0
	for iter := 0; iter < e.cfg.MaxIterations; iter++ {
		iterations = iter + 1
		changes := make([]float64, nI+nP)

		parallelFor(nI, func(i int) {
			if !inclI[i] {
				return
			}
			var sumE, info float64
			for p := 0; p < nP; p++ {
				if !inclP[p] || !observed[p][i] {
					continue
				}
				prob := sigmoid(theta[p] - b[i])
				sumE += prob
				info += prob * (1 - prob)
			}
			if info < 1e-10 {
				return
			}
			step := clamp((sumE-colTarget[i])/info, -maxNewtonStep, maxNewtonStep)
			next := clamp(b[i]+step, -maxParam, maxParam)
			changes[i] = math.Abs(next - b[i])
			b[i] = next
		})

		parallelFor(nP, func(p int) {
			if !inclP[p] {
				return
			}
			var sumE, info float64
			for i := 0; i < nI; i++ {
				if !inclI[i] || !observed[p][i] {
					continue
				}
				prob := sigmoid(theta[p] - b[i])
				sumE += prob
				info += prob * (1 - prob)
			}
			if info < 1e-10 {
				return
			}
			step := clamp((rowTarget[p]-sumE)/info, -maxNewtonStep, maxNewtonStep)
			next := clamp(theta[p]+step, -maxParam, maxParam)
			changes[nI+p] = math.Abs(next - theta[p])
			theta[p] = next
		})

		maxChange := 0.0
		for _, c := range changes {
			if c > maxChange {
				maxChange = c
			}
		}
		if maxChange < e.cfg.Tolerance {
			converged = true
			break
		}
	}

	// Anchor the scale: mean included-item difficulty is 0. Shifting both
	// parameter sets preserves every ability-difficulty distance.
	var meanB float64
	for i := 0; i < nI; i++ {
		if inclI[i] {
			meanB += b[i]
		}
	}
	meanB /= float64(includedItems)
	for i := 0; i < nI; i++ {
		if inclI[i] {
			b[i] -= meanB
		}
	}
	for p := 0; p < nP; p++ {
		if inclP[p] {
			theta[p] -= meanB
		}
	}

	for i := 0; i < nI; i++ {
		if inclI[i] {
			result.Items[i].Difficulty = b[i]
		}
	}
	for p := 0; p < nP; p++ {
		if !inclP[p] {
			continue
		}
		result.Persons[p].Ability = theta[p]
		result.Persons[p].Converged = converged
		var info float64
		for i := 0; i < nI; i++ {
			if inclI[i] && observed[p][i] {
				prob := sigmoid(theta[p] - b[i])
				info += prob * (1 - prob)
			}
		}
		if info > 0 {
			result.Persons[p].StdError = 1 / math.Sqrt(info)
		}
	}

	computeFit(result, x, observed, inclP, inclI)
	result.Converged = converged
	result.Iterations = iterations
	result.Summary = summarize(result)
	return result, nil
}

// adjustExtreme pulls perfect and zero raw scores into the interior of (0, n).
func adjustExtreme(sum, n float64) float64 {
	if sum <= 0 {
		return extremeAdjust
	}
	if sum >= n {
		return n - extremeAdjust
	}
	return sum
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// parallelFor runs fn over [0,n) across worker goroutines and waits for all of
// them. Callers must ensure fn(i) touches only index-i state.
func parallelFor(n int, fn func(i int)) {
	workers := runtime.NumCPU()
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}

	var wg sync.WaitGroup
	chunk := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		if start >= end {
			break
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				fn(i)
			}
		}(start, end)
	}
	wg.Wait()
}
