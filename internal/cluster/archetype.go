package cluster

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/victoria-analytics/traitmeter/internal/errors"
)

// LabelAmbiguous marks a cluster whose best template correlation fell below
// the confidence floor; the numeric confidence is still reported.
const LabelAmbiguous = "ambiguous"

// archetypeCount is the fixed size of the template set a definition must
// declare.
const archetypeCount = 5

// Template is one archetype's expected trait emphasis. Weights are keyed by
// trait name; traits a template does not mention default to zero emphasis.
type Template struct {
	Name    string             `yaml:"name"`
	Weights map[string]float64 `yaml:"weights"`
}

// TemplateSet is the external archetype definition artifact.
type TemplateSet struct {
	Archetypes []Template `yaml:"archetypes"`
}

// LoadTemplates reads and validates an archetype template YAML artifact.
func LoadTemplates(path string) (*TemplateSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigurationError("failed to read archetype templates", err)
	}
	return ParseTemplates(data)
}

// ParseTemplates validates an archetype template document: exactly five
// uniquely named templates, each with at least one weight.
func ParseTemplates(data []byte) (*TemplateSet, error) {
	var set TemplateSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, errors.NewConfigurationError("failed to parse archetype templates", err)
	}
	if len(set.Archetypes) != archetypeCount {
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("archetype definition must declare exactly %d templates, got %d",
				archetypeCount, len(set.Archetypes)), nil)
	}
	seen := make(map[string]bool, archetypeCount)
	for _, t := range set.Archetypes {
		if t.Name == "" {
			return nil, errors.NewConfigurationError("archetype template has no name", nil)
		}
		if seen[t.Name] {
			return nil, errors.NewConfigurationError(
				fmt.Sprintf("duplicate archetype template %q", t.Name), nil)
		}
		seen[t.Name] = true
		if len(t.Weights) == 0 {
			return nil, errors.NewConfigurationError(
				fmt.Sprintf("archetype template %q declares no trait weights", t.Name), nil)
		}
	}
	return &set, nil
}

// vectors aligns every template's weights to the given trait order. Weights
// for traits a template omits are zero; weights for unknown traits are a
// configuration error because they silently never match anything.
func (s *TemplateSet) vectors(traitNames []string) ([][]float64, error) {
	index := make(map[string]int, len(traitNames))
	for i, name := range traitNames {
		index[name] = i
	}
	vecs := make([][]float64, len(s.Archetypes))
	for a, t := range s.Archetypes {
		vec := make([]float64, len(traitNames))
		for trait, w := range t.Weights {
			i, ok := index[trait]
			if !ok {
				return nil, errors.NewConfigurationError(
					fmt.Sprintf("archetype %q weights unknown trait %q", t.Name, trait), nil)
			}
			vec[i] = w
		}
		vecs[a] = vec
	}
	return vecs, nil
}

// matchArchetype returns the index and Pearson correlation of the template
// best matching a centroid. Ties break on the earlier template.
func matchArchetype(centroid []float64, templates [][]float64) (int, float64) {
	best, bestCorr := 0, math.Inf(-1)
	for a, tpl := range templates {
		if corr := pearson(centroid, tpl); corr > bestCorr {
			best, bestCorr = a, corr
		}
	}
	return best, bestCorr
}

// pearson is the sample correlation of two equal-length vectors. Zero-variance
// input yields 0 rather than NaN so a flat centroid degrades to "no match".
func pearson(a, b []float64) float64 {
	n := float64(len(a))
	if n == 0 {
		return 0
	}
	var meanA, meanB float64
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= n
	meanB /= n

	var cov, varA, varB float64
	for i := range a {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
