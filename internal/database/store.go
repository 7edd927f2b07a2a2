package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/victoria-analytics/traitmeter/internal/pipeline"
	"github.com/victoria-analytics/traitmeter/internal/profile"
)

// RunSummary is the list-view projection of one stored batch run.
type RunSummary struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	Estimator      string    `json:"estimator"`
	PercentileMode string    `json:"percentile_mode"`
	Persons        int       `json:"persons"`
	Items          int       `json:"items"`
	K              int       `json:"k"`
	Converged      bool      `json:"converged"`
}

// Store persists pipeline outcomes. All methods take a context so callers can
// bound write latency.
type Store struct {
	db *DB
}

// NewStore wraps an open database handle.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// SaveOutcome writes a run and its profiles in one transaction. The report
// and each profile are stored whole as JSON; the scalar columns exist for
// listing and filtering, never as the source of truth.
func (s *Store) SaveOutcome(ctx context.Context, outcome *pipeline.Outcome) error {
	reportJSON, err := json.Marshal(outcome.Report)
	if err != nil {
		return fmt.Errorf("failed to marshal batch report: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insertRun, err := s.db.GetPreparedStatement("insert_run")
	if err != nil {
		return err
	}
	report := outcome.Report
	if _, err := tx.StmtContext(ctx, insertRun).ExecContext(ctx,
		report.RunID, report.CreatedAt, report.DurationMS,
		report.Estimator, report.PercentileMode,
		report.Estimation.Persons, report.Estimation.Items,
		report.Clustering.K, report.Clustering.Silhouette,
		report.Converged, report.Iterations, string(reportJSON),
	); err != nil {
		return fmt.Errorf("failed to insert batch run: %w", err)
	}

	insertProfile, err := s.db.GetPreparedStatement("insert_profile")
	if err != nil {
		return err
	}
	for _, p := range outcome.Profiles {
		profileJSON, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal profile %s: %w", p.PersonID, err)
		}
		if _, err := tx.StmtContext(ctx, insertProfile).ExecContext(ctx,
			uuid.New().String(), report.RunID, p.PersonID,
			p.Measurement.Ability, p.Cluster.ClusterID, p.Cluster.Archetype,
			string(profileJSON), report.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert profile %s: %w", p.PersonID, err)
		}
	}

	return tx.Commit()
}

// GetRun returns a stored run's full report, or nil when the id is unknown.
func (s *Store) GetRun(ctx context.Context, runID string) (*pipeline.BatchReport, error) {
	stmt, err := s.db.GetPreparedStatement("get_run")
	if err != nil {
		return nil, err
	}

	var reportJSON string
	if err := stmt.QueryRowContext(ctx, runID).Scan(&reportJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read batch run: %w", err)
	}

	var report pipeline.BatchReport
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch report: %w", err)
	}
	return &report, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	stmt, err := s.db.GetPreparedStatement("list_runs")
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch runs: %w", err)
	}
	defer rows.Close()

	var summaries []RunSummary
	for rows.Next() {
		var s RunSummary
		if err := rows.Scan(&s.ID, &s.CreatedAt, &s.Estimator, &s.PercentileMode,
			&s.Persons, &s.Items, &s.K, &s.Converged); err != nil {
			return nil, fmt.Errorf("failed to scan batch run: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// GetProfiles returns every profile of a run, ordered by person id.
func (s *Store) GetProfiles(ctx context.Context, runID string) ([]profile.PersonProfile, error) {
	stmt, err := s.db.GetPreparedStatement("get_profiles")
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles: %w", err)
	}
	defer rows.Close()

	var profiles []profile.PersonProfile
	for rows.Next() {
		var profileJSON string
		if err := rows.Scan(&profileJSON); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		var p profile.PersonProfile
		if err := json.Unmarshal([]byte(profileJSON), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// GetProfile returns one person's profile from a run, or nil when absent.
func (s *Store) GetProfile(ctx context.Context, runID, personID string) (*profile.PersonProfile, error) {
	stmt, err := s.db.GetPreparedStatement("get_profile")
	if err != nil {
		return nil, err
	}

	var profileJSON string
	if err := stmt.QueryRowContext(ctx, runID, personID).Scan(&profileJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	var p profile.PersonProfile
	if err := json.Unmarshal([]byte(profileJSON), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return &p, nil
}
