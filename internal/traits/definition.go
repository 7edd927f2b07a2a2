// Package traits maps estimated item measures onto the 17-trait taxonomy and
// converts raw trait logits into percentiles and qualitative bands.
package traits

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/victoria-analytics/traitmeter/internal/errors"
)

// Trait is one named group of assessment items.
type Trait struct {
	Name  string   `yaml:"name"`
	Items []string `yaml:"items"`
}

// Definition is the static trait taxonomy: trait name → ordered item
// identifiers, reverse-scored items, and an optional reference distribution
// per trait for reference-mode percentiles. Loaded once at process start and
// treated as read-only for the process lifetime.
type Definition struct {
	Traits       []Trait              `yaml:"traits"`
	ReverseItems []string             `yaml:"reverse_items"`
	Reference    map[string][]float64 `yaml:"reference"`

	itemTrait map[string]string
	reverse   map[string]bool
}

// Load reads and validates a trait definition YAML artifact.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigurationError("failed to read trait definition", err)
	}
	return Parse(data)
}

// Parse validates a trait definition document. Every item must belong to
// exactly one trait.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, errors.NewConfigurationError("failed to parse trait definition", err)
	}
	if len(def.Traits) == 0 {
		return nil, errors.NewConfigurationError("trait definition declares no traits", nil)
	}

	def.itemTrait = make(map[string]string)
	for _, trait := range def.Traits {
		if trait.Name == "" {
			return nil, errors.NewConfigurationError("trait definition contains an unnamed trait", nil)
		}
		if len(trait.Items) == 0 {
			return nil, errors.NewConfigurationError(
				fmt.Sprintf("trait %q declares no items", trait.Name), nil)
		}
		for _, item := range trait.Items {
			if owner, dup := def.itemTrait[item]; dup {
				return nil, errors.NewConfigurationError(
					fmt.Sprintf("item %q is mapped to both %q and %q", item, owner, trait.Name), nil)
			}
			def.itemTrait[item] = trait.Name
		}
	}

	def.reverse = make(map[string]bool, len(def.ReverseItems))
	for _, item := range def.ReverseItems {
		if _, ok := def.itemTrait[item]; !ok {
			return nil, errors.NewConfigurationError(
				fmt.Sprintf("reverse-scored item %q is not mapped to any trait", item), nil)
		}
		def.reverse[item] = true
	}

	for trait, sample := range def.Reference {
		if _, ok := def.traitByName(trait); !ok {
			return nil, errors.NewConfigurationError(
				fmt.Sprintf("reference distribution given for unknown trait %q", trait), nil)
		}
		sort.Float64s(sample)
	}

	return &def, nil
}

// TraitOf returns the trait owning an item. Items outside all traits are
// ignored by the scorer, not an error.
func (d *Definition) TraitOf(itemID string) (string, bool) {
	name, ok := d.itemTrait[itemID]
	return name, ok
}

// IsReverse reports whether an item is reverse-scored: a lower raw response
// indicates more of the trait, so its measure is negated before aggregation.
func (d *Definition) IsReverse(itemID string) bool { return d.reverse[itemID] }

// Names returns the trait names in definition order.
func (d *Definition) Names() []string {
	names := make([]string, len(d.Traits))
	for i, t := range d.Traits {
		names[i] = t.Name
	}
	return names
}

func (d *Definition) traitByName(name string) (Trait, bool) {
	for _, t := range d.Traits {
		if t.Name == name {
			return t, true
		}
	}
	return Trait{}, false
}
