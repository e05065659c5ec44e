package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/soyeahso/loom/internal/compile"
	"github.com/soyeahso/loom/internal/dispatch"
	"github.com/soyeahso/loom/internal/registry"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "run <workflow-file>",
		Short: "Compile and execute a workflow file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			cfg := loadConfigOrDefaults()
			if err := paths.EnsureDirs(); err != nil {
				return err
			}

			if !dispatch.CommandExists(cfg.Dispatch.Command) {
				return fmt.Errorf("agent runner %q not found in PATH", cfg.Dispatch.Command)
			}

			store, db, err := openStore(cfg)
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
			}

			_, compiler, _ := newFrontend(store)
			plan, err := compiler.Compile(string(source))
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			if err := compile.RecordUsage(plan, store); err != nil {
				log.Warn().Err(err).Msg("failed to record agent usage")
			}

			var runs *registry.RunStore
			var runID string
			if db != nil {
				runs = registry.NewRunStore(db)
				runID, err = runs.Start(args[0], len(plan.Steps))
				if err != nil {
					log.Warn().Err(err).Msg("failed to record run start")
				}
			}

			runner := compile.NewRunner(newDispatcher(cfg), log)
			if !quiet {
				runner.OnStep = func(res compile.StepResult) {
					fmt.Printf("== %s (line %d) ==\n%s\n", res.AgentName, res.Line, res.Output)
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			results, runErr := runner.Run(ctx, plan)

			if runs != nil && runID != "" {
				status := registry.RunComplete
				if runErr != nil {
					status = registry.RunFailed
				}
				if err := runs.Finish(runID, status); err != nil {
					log.Warn().Err(err).Msg("failed to record run finish")
				}
			}

			if runErr != nil {
				return fmt.Errorf("%s: %w", args[0], runErr)
			}

			if quiet && len(results) > 0 {
				// Quiet mode prints only the final step's output.
				fmt.Println(results[len(results)-1].Output)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&quiet, "quiet", false, "print only the last step's output")
	return cmd
}
