package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/victoria-analytics/traitmeter/internal/cluster"
	"github.com/victoria-analytics/traitmeter/internal/database"
	"github.com/victoria-analytics/traitmeter/internal/ingest"
	"github.com/victoria-analytics/traitmeter/internal/mapper"
	"github.com/victoria-analytics/traitmeter/internal/pipeline"
	"github.com/victoria-analytics/traitmeter/internal/traits"
)

var (
	analyzeEstimator      string
	analyzePercentileMode string
	analyzeSeed           int64
	analyzeOutput         string
	analyzeSave           bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <survey.csv>",
	Short: "Score a survey batch and cluster the respondents",
	Long: `Score a survey batch: map Likert responses to ordinal codes, estimate
abilities and difficulties, aggregate trait profiles, and cluster respondents
into archetypes.

Examples:
  traitmeter analyze survey.csv
  traitmeter analyze survey.csv --estimator prox --seed 42
  traitmeter analyze survey.csv --percentile-mode reference -o outcome.json
  traitmeter analyze survey.csv --save`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeEstimator, "estimator", "e", "jmle", "estimator (jmle, prox)")
	analyzeCmd.Flags().StringVarP(&analyzePercentileMode, "percentile-mode", "p", "population", "percentile mode (population, reference)")
	analyzeCmd.Flags().Int64Var(&analyzeSeed, "seed", 0, "clustering seed (0 uses the default)")
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "", "write the outcome JSON to a file instead of stdout")
	analyzeCmd.Flags().BoolVar(&analyzeSave, "save", false, "persist the outcome to the result store")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	file, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open survey file: %w", err)
	}
	defer file.Close()

	table, err := ingest.ReadCSV(file)
	if err != nil {
		return err
	}

	def, err := traits.Load(cfg.TraitsPath)
	if err != nil {
		return err
	}
	templates, err := cluster.LoadTemplates(cfg.ArchetypesPath)
	if err != nil {
		return err
	}

	opts := pipeline.Options{
		Estimator:      analyzeEstimator,
		PercentileMode: traits.PercentileMode(analyzePercentileMode),
	}
	if analyzeSeed != 0 {
		opts.Cluster = cluster.DefaultConfig()
		opts.Cluster.Seed = analyzeSeed
	}

	scale := mapper.DefaultLikertScale()
	if cfg.ScalePath != "" {
		if scale, err = mapper.LoadScale(cfg.ScalePath); err != nil {
			return err
		}
	}

	pipe := pipeline.New(scale, def, templates, nil, logger)
	outcome, err := pipe.Run(context.Background(), table, opts)
	if err != nil {
		return err
	}

	if analyzeSave {
		db, err := database.NewDB(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open result store: %w", err)
		}
		defer db.Close()
		if err := database.NewStore(db).SaveOutcome(context.Background(), outcome); err != nil {
			return fmt.Errorf("save outcome: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Saved run %s\n", outcome.Report.RunID)
	}

	encoded, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	if analyzeOutput != "" {
		if err := os.WriteFile(analyzeOutput, encoded, 0644); err != nil {
			return fmt.Errorf("write outcome: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Wrote %s\n", analyzeOutput)
		return nil
	}
	fmt.Println(string(encoded))
	return nil
}
