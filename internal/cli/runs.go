package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/victoria-analytics/traitmeter/internal/database"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored batch runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.NewDB(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open result store: %w", err)
		}
		defer db.Close()

		runs, err := database.NewStore(db).ListRuns(context.Background(), runsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No stored runs.")
			return nil
		}
		for _, r := range runs {
			fmt.Printf("%s  %s  %s/%s  persons=%d items=%d k=%d converged=%t\n",
				r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"),
				r.Estimator, r.PercentileMode, r.Persons, r.Items, r.K, r.Converged)
		}
		return nil
	},
}

var showProfiles bool

var showCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a stored batch run's report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.NewDB(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open result store: %w", err)
		}
		defer db.Close()
		store := database.NewStore(db)

		ctx := context.Background()
		if showProfiles {
			profiles, err := store.GetProfiles(ctx, args[0])
			if err != nil {
				return err
			}
			if len(profiles) == 0 {
				return fmt.Errorf("run %s not found", args[0])
			}
			return printJSON(profiles)
		}

		report, err := store.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		if report == nil {
			return fmt.Errorf("run %s not found", args[0])
		}
		return printJSON(report)
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum runs to list")
	showCmd.Flags().BoolVar(&showProfiles, "profiles", false, "print the run's profiles instead of the report")
}

func printJSON(v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
