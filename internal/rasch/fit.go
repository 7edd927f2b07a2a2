package rasch

// computeFit fills infit and outfit statistics for every included person and
// item. Outfit is the unweighted mean of squared standardized residuals, so a
// single far-off response inflates it. Infit weights each squared residual by
// the model variance at that cell, making it sensitive to misfit near a
// person's own level. Both have expectation 1 under the model; they diagnose
// misfitting entities and never gate estimation success.
func computeFit(result *Result, x [][]float64, observed [][]bool, inclP, inclI []bool) {
	nP := len(result.Persons)
	nI := len(result.Items)

	type accum struct {
		sqResid  float64 // sum (x - E)^2
		variance float64 // sum E(1-E)
		zsq      float64 // sum (x - E)^2 / E(1-E)
		n        int
	}
	personAcc := make([]accum, nP)
	itemAcc := make([]accum, nI)

	for p := 0; p < nP; p++ {
		if !inclP[p] {
			continue
		}
		for i := 0; i < nI; i++ {
			if !inclI[i] || !observed[p][i] {
				continue
			}
			expected := sigmoid(result.Persons[p].Ability - result.Items[i].Difficulty)
			variance := expected * (1 - expected)
			if variance < 1e-10 {
				continue
			}
			resid := x[p][i] - expected
			sq := resid * resid

			personAcc[p].sqResid += sq
			personAcc[p].variance += variance
			personAcc[p].zsq += sq / variance
			personAcc[p].n++

			itemAcc[i].sqResid += sq
			itemAcc[i].variance += variance
			itemAcc[i].zsq += sq / variance
			itemAcc[i].n++
		}
	}

	for p := 0; p < nP; p++ {
		if acc := personAcc[p]; acc.n > 0 && acc.variance > 0 {
			result.Persons[p].Infit = acc.sqResid / acc.variance
			result.Persons[p].Outfit = acc.zsq / float64(acc.n)
		}
	}
	for i := 0; i < nI; i++ {
		if acc := itemAcc[i]; acc.n > 0 && acc.variance > 0 {
			result.Items[i].Infit = acc.sqResid / acc.variance
			result.Items[i].Outfit = acc.zsq / float64(acc.n)
		}
	}
}
