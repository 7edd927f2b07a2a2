// Package profile assembles the per-person output record from the scoring
// stages' results.
package profile

import (
	"github.com/victoria-analytics/traitmeter/internal/cluster"
	"github.com/victoria-analytics/traitmeter/internal/errors"
	"github.com/victoria-analytics/traitmeter/internal/rasch"
	"github.com/victoria-analytics/traitmeter/internal/traits"
)

// Measurement is the person-level estimation summary carried on a profile.
type Measurement struct {
	Ability        float64 `json:"ability"`
	StdError       float64 `json:"std_error"`
	Infit          float64 `json:"infit"`
	Outfit         float64 `json:"outfit"`
	ValidResponses int     `json:"valid_responses"`
	Converged      bool    `json:"converged"`
	Excluded       bool    `json:"excluded,omitempty"`
	ExcludedReason string  `json:"excluded_reason,omitempty"`
}

// ClusterMembership is the person's cluster placement on a profile. ClusterID
// is -1 and Archetype "unassigned" when the person was left outside all
// clusters.
type ClusterMembership struct {
	ClusterID  int      `json:"cluster_id"`
	Archetype  string   `json:"archetype"`
	Confidence *float64 `json:"confidence,omitempty"`
	Distance   float64  `json:"distance,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// PersonProfile is the complete assembled record for one person in a batch.
type PersonProfile struct {
	PersonID    string              `json:"person_id"`
	Measurement Measurement         `json:"measurement"`
	Traits      []traits.TraitScore `json:"traits"`
	Cluster     ClusterMembership   `json:"cluster"`
	Narrative   string              `json:"narrative,omitempty"`
}

// ArchetypeUnassigned is the archetype label for persons outside all clusters.
const ArchetypeUnassigned = "unassigned"

// Assemble joins the stage outputs into one profile per person. Every person
// in the estimation result must have trait scores and a cluster assignment;
// a person present in one stage's output but absent from another is an
// internal pipeline bug, reported as an incomplete-profile error rather than
// papered over with defaults.
func Assemble(est *rasch.Result, scored []traits.PersonTraits, clustered *cluster.Result) ([]PersonProfile, error) {
	traitsByPerson := make(map[string]traits.PersonTraits, len(scored))
	for _, pt := range scored {
		traitsByPerson[pt.PersonID] = pt
	}
	assignByPerson := make(map[string]cluster.Assignment, len(clustered.Assignments))
	for _, a := range clustered.Assignments {
		assignByPerson[a.PersonID] = a
	}

	profiles := make([]PersonProfile, 0, len(est.Persons))
	for _, pm := range est.Persons {
		pt, ok := traitsByPerson[pm.PersonID]
		if !ok {
			return nil, errors.NewIncompleteProfileError(pm.PersonID, "trait scores")
		}
		assign, ok := assignByPerson[pm.PersonID]
		if !ok {
			return nil, errors.NewIncompleteProfileError(pm.PersonID, "cluster assignment")
		}

		membership := ClusterMembership{ClusterID: cluster.UnassignedID, Archetype: ArchetypeUnassigned, Reason: assign.Reason}
		if !assign.Unassigned() {
			group := clustered.Groups[assign.ClusterID]
			confidence := group.Confidence
			membership = ClusterMembership{
				ClusterID:  assign.ClusterID,
				Archetype:  assign.Archetype,
				Confidence: &confidence,
				Distance:   assign.Distance,
			}
		}

		profiles = append(profiles, PersonProfile{
			PersonID: pm.PersonID,
			Measurement: Measurement{
				Ability:        pm.Ability,
				StdError:       pm.StdError,
				Infit:          pm.Infit,
				Outfit:         pm.Outfit,
				ValidResponses: pm.ValidResponses,
				Converged:      pm.Converged,
				Excluded:       pm.Excluded,
				ExcludedReason: pm.ExcludedReason,
			},
			Traits:  pt.Scores,
			Cluster: membership,
		})
	}
	return profiles, nil
}
