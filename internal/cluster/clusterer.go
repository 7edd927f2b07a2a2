package cluster

import (
	"math"

	"github.com/victoria-analytics/traitmeter/internal/errors"
	"github.com/victoria-analytics/traitmeter/internal/traits"
)

// UnassignedID marks a person who could not be placed in any cluster, either
// because one of their traits is unscoreable or because the clusterable
// population was too small.
const UnassignedID = -1

// Config controls one clustering run. Seed makes the run reproducible;
// identical input and seed always produce identical assignments.
type Config struct {
	Seed          int64
	KMin          int
	KMax          int
	Restarts      int
	MaxIterations int
	MinPopulation int     // below this, clustering is skipped entirely
	MinConfidence float64 // template correlation below this → ambiguous
}

// DefaultConfig returns the standard clustering parameters.
func DefaultConfig() Config {
	return Config{
		Seed:          1,
		KMin:          2,
		KMax:          8,
		Restarts:      10,
		MaxIterations: 100,
		MinPopulation: 3,
		MinConfidence: 0.3,
	}
}

// Assignment is one person's cluster placement.
type Assignment struct {
	PersonID  string  `json:"person_id"`
	ClusterID int     `json:"cluster_id"`
	Archetype string  `json:"archetype,omitempty"`
	Distance  float64 `json:"distance,omitempty"`
	Reason    string  `json:"reason,omitempty"` // set only when unassigned
}

// Unassigned reports whether the person was left outside all clusters.
func (a Assignment) Unassigned() bool { return a.ClusterID == UnassignedID }

// Group is one discovered cluster with its archetype match.
type Group struct {
	ID         int       `json:"id"`
	Archetype  string    `json:"archetype"`
	Confidence float64   `json:"confidence"`
	Size       int       `json:"size"`
	Centroid   []float64 `json:"centroid"` // standardized trait space
}

// Result is the outcome of one clustering run over a batch.
type Result struct {
	K           int          `json:"k"`
	Silhouette  float64      `json:"silhouette"`
	Inertia     float64      `json:"inertia"`
	Skipped     bool         `json:"skipped"` // population below MinPopulation
	Groups      []Group      `json:"groups"`
	Assignments []Assignment `json:"assignments"`
}

// Clusterer groups trait profiles and names the groups. Construct once per
// template artifact; safe for concurrent use.
type Clusterer struct {
	cfg        Config
	traitNames []string
	templates  [][]float64
	names      []string
}

// NewClusterer aligns the archetype templates to the definition's trait order
// and validates the k range.
func NewClusterer(set *TemplateSet, traitNames []string, cfg Config) (*Clusterer, error) {
	if cfg.KMin < 2 || cfg.KMax < cfg.KMin {
		return nil, errors.NewConfigurationError("cluster count range must satisfy 2 <= k_min <= k_max", nil)
	}
	vecs, err := set.vectors(traitNames)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(set.Archetypes))
	for i, t := range set.Archetypes {
		names[i] = t.Name
	}
	return &Clusterer{cfg: cfg, traitNames: traitNames, templates: vecs, names: names}, nil
}

// Cluster groups the batch's trait profiles. Persons with any unscoreable
// trait are unassigned, never imputed into the geometry. If fewer than
// MinPopulation persons are clusterable the whole step is skipped and every
// person is unassigned.
func (c *Clusterer) Cluster(persons []traits.PersonTraits) *Result {
	result := &Result{Assignments: make([]Assignment, len(persons))}

	var data [][]float64
	var rows []int // data row → persons index
	for p, pt := range persons {
		result.Assignments[p] = Assignment{PersonID: pt.PersonID, ClusterID: UnassignedID}
		vec, ok := pt.Vector()
		if !ok {
			result.Assignments[p].Reason = "one or more traits unscoreable"
			continue
		}
		data = append(data, vec)
		rows = append(rows, p)
	}

	if len(data) < c.cfg.MinPopulation {
		result.Skipped = true
		for i := range rows {
			result.Assignments[rows[i]].Reason = "population too small for clustering"
		}
		return result
	}

	standardize(data)

	// Pick k by best mean silhouette; ties go to the smaller k so the
	// simplest adequate structure wins.
	kMax := c.cfg.KMax
	if kMax > len(data)-1 {
		kMax = len(data) - 1
	}
	var best kmeansRun
	bestK, bestSil := 0, math.Inf(-1)
	for k := c.cfg.KMin; k <= kMax; k++ {
		run := runKMeans(data, k, c.cfg.Restarts, c.cfg.MaxIterations, c.cfg.Seed)
		if sil := silhouetteScore(data, run.labels, k); sil > bestSil {
			best, bestK, bestSil = run, k, sil
		}
	}
	if bestK == 0 {
		// k range collapsed (e.g. 3 persons, all coincident); treat as one
		// degenerate run at the minimum k.
		bestK = c.cfg.KMin
		best = runKMeans(data, bestK, c.cfg.Restarts, c.cfg.MaxIterations, c.cfg.Seed)
		bestSil = silhouetteScore(data, best.labels, bestK)
	}

	result.K = bestK
	result.Silhouette = bestSil
	result.Inertia = best.inertia

	result.Groups = make([]Group, bestK)
	for id := 0; id < bestK; id++ {
		archetype, confidence := matchArchetype(best.centroids[id], c.templates)
		name := c.names[archetype]
		if confidence < c.cfg.MinConfidence {
			name = LabelAmbiguous
		}
		result.Groups[id] = Group{
			ID:         id,
			Archetype:  name,
			Confidence: confidence,
			Centroid:   best.centroids[id],
		}
	}

	for row, p := range rows {
		id := best.labels[row]
		result.Groups[id].Size++
		result.Assignments[p] = Assignment{
			PersonID:  persons[p].PersonID,
			ClusterID: id,
			Archetype: result.Groups[id].Archetype,
			Distance:  euclidean(data[row], best.centroids[id]),
		}
	}
	return result
}

// standardize z-scores each dimension in place. A zero-variance dimension is
// centered only, so it stops influencing distances without producing NaN.
func standardize(data [][]float64) {
	if len(data) == 0 {
		return
	}
	dims := len(data[0])
	n := float64(len(data))
	for d := 0; d < dims; d++ {
		var mean float64
		for _, row := range data {
			mean += row[d]
		}
		mean /= n

		var variance float64
		for _, row := range data {
			diff := row[d] - mean
			variance += diff * diff
		}
		sd := math.Sqrt(variance / n)

		for _, row := range data {
			row[d] -= mean
			if sd > 0 {
				row[d] /= sd
			}
		}
	}
}
