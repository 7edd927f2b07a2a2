package rasch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victoria-analytics/traitmeter/internal/errors"
)

func TestPROXSingleShotConverges(t *testing.T) {
	est := NewPROX(DefaultConfig())
	result, err := est.Estimate(completeMatrix())
	require.NoError(t, err)

	assert.True(t, result.Converged)
	assert.Equal(t, 1, result.Iterations)
	for _, p := range result.Persons {
		assert.True(t, p.Converged)
		assert.Greater(t, p.StdError, 0.0)
	}
}

func TestPROXDifficultiesAreCentered(t *testing.T) {
	est := NewPROX(DefaultConfig())
	result, err := est.Estimate(completeMatrix())
	require.NoError(t, err)

	var mean float64
	var n int
	for _, item := range result.Items {
		if !item.Excluded {
			mean += item.Difficulty
			n++
		}
	}
	mean /= float64(n)
	assert.InDelta(t, 0.0, mean, 1e-9)
}

func TestPROXPreservesRawScoreOrder(t *testing.T) {
	est := NewPROX(DefaultConfig())
	result, err := est.Estimate(completeMatrix())
	require.NoError(t, err)

	for p := 1; p < len(result.Persons); p++ {
		assert.Greater(t, result.Persons[p].Ability, result.Persons[p-1].Ability)
	}
}

func TestPROXAndJMLEAgreeOnOrdering(t *testing.T) {
	m := completeMatrix()

	jmle, err := NewJMLE(DefaultConfig()).Estimate(m)
	require.NoError(t, err)
	prox, err := NewPROX(DefaultConfig()).Estimate(m)
	require.NoError(t, err)

	// The two estimators differ numerically but must rank persons the same
	// way on complete data.
	for p := 1; p < len(m.PersonIDs); p++ {
		jmleUp := jmle.Persons[p].Ability > jmle.Persons[p-1].Ability
		proxUp := prox.Persons[p].Ability > prox.Persons[p-1].Ability
		assert.Equal(t, jmleUp, proxUp, "rank flip at person %d", p)
	}
}

func TestPROXTooFewItemsFatal(t *testing.T) {
	m := completeMatrix()
	for p := range m.Codes {
		for i := 1; i < len(m.Codes[p]); i++ {
			m.Codes[p][i] = -1
		}
	}

	_, err := NewPROX(DefaultConfig()).Estimate(m)
	require.Error(t, err)
	assert.True(t, errors.IsBatchFatal(err))
}
