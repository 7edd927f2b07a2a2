package traits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victoria-analytics/traitmeter/internal/errors"
	"github.com/victoria-analytics/traitmeter/internal/mapper"
	"github.com/victoria-analytics/traitmeter/internal/rasch"
)

func scoringFixture(t *testing.T) (*Definition, *mapper.ItemResponseMatrix, *rasch.Result) {
	t.Helper()

	def, err := Parse([]byte(`
traits:
  - name: Focus
    items: [F1, F2]
  - name: Openness
    items: [O1, O2]
reverse_items: [F2]
`))
	require.NoError(t, err)

	m := &mapper.ItemResponseMatrix{
		PersonIDs: []string{"p1", "p2", "p3"},
		ItemIDs:   []string{"F1", "F2", "O1", "O2"},
		Levels:    5,
		Codes: [][]int{
			{4, 1, 3, 2},
			{2, 2, 2, 1},
			{1, 3, 1, 0},
		},
	}

	result := &rasch.Result{
		Persons: []rasch.PersonMeasure{
			{PersonID: "p1", Ability: 1.0, Converged: true, ValidResponses: 4},
			{PersonID: "p2", Ability: 0.0, Converged: true, ValidResponses: 4},
			{PersonID: "p3", Ability: -1.0, Converged: true, ValidResponses: 4},
		},
		Items: []rasch.ItemParameter{
			{ItemID: "F1", Difficulty: 0.5, ValidResponses: 3},
			{ItemID: "F2", Difficulty: -0.5, ValidResponses: 3},
			{ItemID: "O1", Difficulty: 0.0, ValidResponses: 3},
			{ItemID: "O2", Difficulty: 1.0, ValidResponses: 3},
		},
		Converged: true,
	}
	return def, m, result
}

func TestScorePopulationPercentiles(t *testing.T) {
	def, m, est := scoringFixture(t)
	scorer, err := NewScorer(def, DefaultConfig())
	require.NoError(t, err)

	all, warnings := scorer.Score(m, est)
	require.Len(t, all, 3)
	assert.Empty(t, warnings)

	// Openness cell measures carry the observed category shift:
	// p1 = ((1.0-0+0.5)+(1.0-1.0+0))/2 = 0.75
	// p2 = ((0-0+0)+(0-1.0-0.5))/2    = -0.75
	// p3 = ((-1.0-0-0.5)+(-1.0-1.0-1.5))/2 = -2.5
	open := func(p int) TraitScore { return all[p].Scores[1] }
	assert.Equal(t, "Openness", open(0).Trait)
	assert.InDelta(t, 0.75, open(0).RawLogit, 1e-9)
	assert.InDelta(t, -0.75, open(1).RawLogit, 1e-9)
	assert.InDelta(t, -2.5, open(2).RawLogit, 1e-9)

	assert.InDelta(t, 100*2.5/3, open(0).Percentile, 1e-9)
	assert.InDelta(t, 50.0, open(1).Percentile, 1e-9)
	assert.InDelta(t, 100*0.5/3, open(2).Percentile, 1e-9)

	assert.Equal(t, BandHigh, open(0).Band)
	assert.Equal(t, BandModerate, open(1).Band)
	assert.Equal(t, BandLow, open(2).Band)

	for p := range all {
		for _, s := range all[p].Scores {
			assert.GreaterOrEqual(t, s.Percentile, 0.0)
			assert.LessOrEqual(t, s.Percentile, 100.0)
			assert.Equal(t, 2, s.Items)
		}
	}
}

func TestScoreReverseItemsAreNegated(t *testing.T) {
	def, m, est := scoringFixture(t)
	scorer, err := NewScorer(def, DefaultConfig())
	require.NoError(t, err)

	all, _ := scorer.Score(m, est)

	// Focus = mean of measure(F1) and -measure(F2), equal weights.
	// p1: (1.0-0.5+1.0) and -(1.0+0.5-0.5) => (1.5 - 1.0)/2 = 0.25.
	assert.InDelta(t, 0.25, all[0].Scores[0].RawLogit, 1e-9)
}

func TestScoreWeightsByItemResponses(t *testing.T) {
	def, m, est := scoringFixture(t)
	est.Items[0].ValidResponses = 3 // F1
	est.Items[1].ValidResponses = 1 // F2

	scorer, err := NewScorer(def, DefaultConfig())
	require.NoError(t, err)
	all, _ := scorer.Score(m, est)

	// p1 Focus = (3*1.5 + 1*(-1.0)) / 4 = 0.875.
	assert.InDelta(t, 0.875, all[0].Scores[0].RawLogit, 1e-9)
}

func TestScoreMissingTraitIsUnscoreable(t *testing.T) {
	def, m, est := scoringFixture(t)
	m.Codes[2][2] = mapper.Missing // p3 loses O1
	m.Codes[2][3] = mapper.Missing // p3 loses O2

	scorer, err := NewScorer(def, DefaultConfig())
	require.NoError(t, err)
	all, warnings := scorer.Score(m, est)

	p3Open := all[2].Scores[1]
	assert.True(t, p3Open.Unscoreable)
	assert.Equal(t, BandUnscoreable, p3Open.Band)
	assert.Zero(t, p3Open.Items)

	require.Len(t, warnings, 1)
	assert.Equal(t, errors.CategoryInsufficientData, warnings[0].Category)
	assert.False(t, errors.IsBatchFatal(warnings[0]))

	// Percentiles for the remaining persons rank within the scoreable pool.
	assert.InDelta(t, 75.0, all[0].Scores[1].Percentile, 1e-9)
	assert.InDelta(t, 25.0, all[1].Scores[1].Percentile, 1e-9)

	_, ok := all[2].Vector()
	assert.False(t, ok)
	vec, ok := all[0].Vector()
	assert.True(t, ok)
	assert.Len(t, vec, 2)
}

func TestScoreExcludedPersonFullyUnscoreable(t *testing.T) {
	def, m, est := scoringFixture(t)
	est.Persons[1].Excluded = true

	scorer, err := NewScorer(def, DefaultConfig())
	require.NoError(t, err)
	all, warnings := scorer.Score(m, est)

	for _, s := range all[1].Scores {
		assert.True(t, s.Unscoreable)
	}
	require.NotEmpty(t, warnings)
	assert.Equal(t, errors.CategoryInsufficientData, warnings[len(warnings)-1].Category)
}

func TestScoreSkipsExcludedItems(t *testing.T) {
	def, m, est := scoringFixture(t)
	est.Items[3].Excluded = true // O2 out of estimation

	scorer, err := NewScorer(def, DefaultConfig())
	require.NoError(t, err)
	all, _ := scorer.Score(m, est)

	// Openness now rests on O1 alone: (1.0-0) + shift(3) = 1.5.
	assert.Equal(t, 1, all[0].Scores[1].Items)
	assert.InDelta(t, 1.5, all[0].Scores[1].RawLogit, 1e-9)
}

func TestScoreSeparatesMirroredResponsePatterns(t *testing.T) {
	def, err := Parse([]byte(`
traits:
  - name: Focus
    items: [F1]
  - name: Openness
    items: [O1]
`))
	require.NoError(t, err)

	// Equal row totals give equal abilities; the answers are mirrored across
	// the two traits, so the trait scores must still differ per person.
	m := &mapper.ItemResponseMatrix{
		PersonIDs: []string{"a", "b"},
		ItemIDs:   []string{"F1", "O1"},
		Levels:    5,
		Codes: [][]int{
			{4, 0},
			{0, 4},
		},
	}
	est := &rasch.Result{
		Persons: []rasch.PersonMeasure{
			{PersonID: "a", Ability: 0, Converged: true, ValidResponses: 2},
			{PersonID: "b", Ability: 0, Converged: true, ValidResponses: 2},
		},
		Items: []rasch.ItemParameter{
			{ItemID: "F1", ValidResponses: 2},
			{ItemID: "O1", ValidResponses: 2},
		},
		Converged: true,
	}

	scorer, err := NewScorer(def, DefaultConfig())
	require.NoError(t, err)
	all, _ := scorer.Score(m, est)

	focus := func(p int) TraitScore { return all[p].Scores[0] }
	open := func(p int) TraitScore { return all[p].Scores[1] }

	assert.InDelta(t, 1.0, focus(0).RawLogit, 1e-9)
	assert.InDelta(t, -1.5, focus(1).RawLogit, 1e-9)
	assert.InDelta(t, -1.5, open(0).RawLogit, 1e-9)
	assert.InDelta(t, 1.0, open(1).RawLogit, 1e-9)

	assert.Greater(t, focus(0).Percentile, focus(1).Percentile)
	assert.Greater(t, open(1).Percentile, open(0).Percentile)
}

func TestScorerReferenceModeRequiresDistributions(t *testing.T) {
	def, _, _ := scoringFixture(t)

	_, err := NewScorer(def, Config{Mode: ModeReference, Breakpoints: DefaultBreakpoints()})
	require.Error(t, err)
	assert.Equal(t, errors.CategoryConfiguration, errors.ToAppError(err).Category)
}

func TestScorerReferenceModeRanksAgainstFixedSample(t *testing.T) {
	def, m, est := scoringFixture(t)
	def.Reference = map[string][]float64{
		"Focus":    {-2, -1, 0, 1, 2},
		"Openness": {-2, -1, 0, 1, 2},
	}

	scorer, err := NewScorer(def, Config{Mode: ModeReference, Breakpoints: DefaultBreakpoints()})
	require.NoError(t, err)
	all, _ := scorer.Score(m, est)

	// p1 Openness raw logit 0.75: three sample values below, none equal.
	assert.InDelta(t, 100*3.0/5, all[0].Scores[1].Percentile, 1e-9)
}

func TestScorerRejectsUnknownMode(t *testing.T) {
	def, _, _ := scoringFixture(t)
	_, err := NewScorer(def, Config{Mode: "zscore"})
	require.Error(t, err)
}

func TestBreakpointBands(t *testing.T) {
	b := DefaultBreakpoints()

	tests := []struct {
		percentile float64
		expected   string
	}{
		{0, BandLow},
		{24.9, BandLow},
		{25, BandModerate},
		{75, BandModerate},
		{75.1, BandHigh},
		{90, BandHigh},
		{90.1, BandVeryHigh},
		{100, BandVeryHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, b.Band(tt.percentile), "percentile %v", tt.percentile)
	}
}

func TestPercentileRankMidrank(t *testing.T) {
	sample := []float64{1, 2, 2, 3}

	assert.InDelta(t, 100*2.0/4, percentileRank(2, sample), 1e-9) // 1 below + half of 2 ties
	assert.InDelta(t, 100*3.5/4, percentileRank(3, sample), 1e-9)
	assert.InDelta(t, 0+100*0.5/4, percentileRank(1, sample), 1e-9)
	assert.Equal(t, 50.0, percentileRank(1, nil))
}
