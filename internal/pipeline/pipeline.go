// Package pipeline runs the full scoring sequence for one batch: response
// mapping, ability estimation, trait scoring, clustering, and profile
// assembly.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/victoria-analytics/traitmeter/internal/cluster"
	"github.com/victoria-analytics/traitmeter/internal/errors"
	"github.com/victoria-analytics/traitmeter/internal/mapper"
	"github.com/victoria-analytics/traitmeter/internal/profile"
	"github.com/victoria-analytics/traitmeter/internal/rasch"
	"github.com/victoria-analytics/traitmeter/internal/traits"
	"github.com/victoria-analytics/traitmeter/internal/types"
)

// Narrator turns an assembled profile into prose. Implementations may call
// external services; a narration failure degrades to an empty narrative and a
// recorded warning, never a batch failure.
type Narrator interface {
	Narrate(ctx context.Context, p profile.PersonProfile) (string, error)
}

// Options are the per-run knobs a caller may set. Zero values select the
// defaults.
type Options struct {
	Estimator      string
	Rasch          rasch.Config
	PercentileMode traits.PercentileMode
	Breakpoints    traits.Breakpoints
	Cluster        cluster.Config
	Narrative      bool
}

func (o *Options) applyDefaults() {
	if o.Estimator == "" {
		o.Estimator = rasch.KindJMLE
	}
	if o.Rasch == (rasch.Config{}) {
		o.Rasch = rasch.DefaultConfig()
	}
	if o.PercentileMode == "" {
		o.PercentileMode = traits.ModePopulation
	}
	if o.Breakpoints == (traits.Breakpoints{}) {
		o.Breakpoints = traits.DefaultBreakpoints()
	}
	if o.Cluster == (cluster.Config{}) {
		o.Cluster = cluster.DefaultConfig()
	}
}

// ClusterSummary is the run-level clustering outcome carried on the report.
type ClusterSummary struct {
	K          int     `json:"k"`
	Silhouette float64 `json:"silhouette"`
	Skipped    bool    `json:"skipped"`
}

// BatchReport is the run-level record of one pipeline execution.
type BatchReport struct {
	RunID          string             `json:"run_id"`
	CreatedAt      time.Time          `json:"created_at"`
	DurationMS     int64              `json:"duration_ms"`
	Estimator      string             `json:"estimator"`
	PercentileMode string             `json:"percentile_mode"`
	Mapping        *mapper.Report     `json:"mapping"`
	Estimation     rasch.Summary      `json:"estimation"`
	Converged      bool               `json:"converged"`
	Iterations     int                `json:"iterations"`
	Clustering     ClusterSummary     `json:"clustering"`
	Warnings       []*errors.AppError `json:"warnings,omitempty"`
}

// Outcome bundles everything one run produced.
type Outcome struct {
	Report   BatchReport             `json:"report"`
	Profiles []profile.PersonProfile `json:"profiles"`
	Clusters []cluster.Group         `json:"clusters"`
}

// Pipeline holds the static artifacts a run needs. Construct once; safe for
// concurrent Run calls.
type Pipeline struct {
	scale     mapper.Scale
	def       *traits.Definition
	templates *cluster.TemplateSet
	narrator  Narrator
	logger    *slog.Logger
}

// New assembles a pipeline from its static artifacts. narrator may be nil;
// narrative requests are then recorded as unavailable.
func New(scale mapper.Scale, def *traits.Definition, templates *cluster.TemplateSet, narrator Narrator, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{scale: scale, def: def, templates: templates, narrator: narrator, logger: logger}
}

// Run executes the scoring sequence on one raw table. Batch-fatal errors
// (malformed input, configuration gaps, assembly bugs) return before any
// profile is emitted; per-entity insufficiency is recorded in the report's
// warnings and degrades only the affected fields.
func (p *Pipeline) Run(ctx context.Context, table types.RawTable, opts Options) (*Outcome, error) {
	opts.applyDefaults()
	start := time.Now()
	runID := uuid.New().String()
	log := p.logger.With("run_id", runID)

	matrix, mapReport, err := mapper.Map(table, p.scale)
	if err != nil {
		return nil, err
	}
	log.Debug("mapped responses",
		"persons", len(matrix.PersonIDs),
		"items", len(matrix.ItemIDs),
		"excluded_persons", len(mapReport.ExcludedPersons),
		"excluded_items", len(mapReport.ExcludedItems))

	estimator, err := rasch.New(opts.Estimator, opts.Rasch)
	if err != nil {
		return nil, errors.NewConfigurationError("invalid estimator selection", err)
	}
	est, err := estimator.Estimate(matrix)
	if err != nil {
		return nil, err
	}
	if !est.Converged {
		log.Warn("estimation did not converge within the iteration cap",
			"iterations", est.Iterations)
	}

	scorer, err := traits.NewScorer(p.def, traits.Config{
		Mode:        opts.PercentileMode,
		Breakpoints: opts.Breakpoints,
	})
	if err != nil {
		return nil, err
	}
	scored, warnings := scorer.Score(matrix, est)

	clusterer, err := cluster.NewClusterer(p.templates, p.def.Names(), opts.Cluster)
	if err != nil {
		return nil, err
	}
	clustered := clusterer.Cluster(scored)
	if clustered.Skipped {
		log.Warn("clustering skipped", "clusterable_persons", len(scored))
	}

	profiles, err := profile.Assemble(est, scored, clustered)
	if err != nil {
		return nil, err
	}

	if opts.Narrative {
		warnings = append(warnings, p.narrate(ctx, profiles, log)...)
	}

	report := BatchReport{
		RunID:          runID,
		CreatedAt:      start.UTC(),
		DurationMS:     time.Since(start).Milliseconds(),
		Estimator:      opts.Estimator,
		PercentileMode: string(scorer.Mode()),
		Mapping:        mapReport,
		Estimation:     est.Summary,
		Converged:      est.Converged,
		Iterations:     est.Iterations,
		Clustering: ClusterSummary{
			K:          clustered.K,
			Silhouette: clustered.Silhouette,
			Skipped:    clustered.Skipped,
		},
		Warnings: warnings,
	}
	log.Info("batch scored",
		"persons", len(profiles),
		"k", clustered.K,
		"converged", est.Converged,
		"warnings", len(warnings),
		"duration_ms", report.DurationMS)

	return &Outcome{Report: report, Profiles: profiles, Clusters: clustered.Groups}, nil
}

// narrate fills profile narratives in place, one warning per failure.
func (p *Pipeline) narrate(ctx context.Context, profiles []profile.PersonProfile, log *slog.Logger) []*errors.AppError {
	if p.narrator == nil {
		return []*errors.AppError{errors.NewInsufficientDataError(
			"narrative", "narrative requested but no narrator is configured")}
	}
	var warnings []*errors.AppError
	for i := range profiles {
		text, err := p.narrator.Narrate(ctx, profiles[i])
		if err != nil {
			log.Warn("narrative generation failed",
				"person_id", profiles[i].PersonID, "error", err)
			warnings = append(warnings, errors.NewInsufficientDataError(
				profiles[i].PersonID, "narrative generation failed"))
			continue
		}
		profiles[i].Narrative = text
	}
	return warnings
}
