package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newCompileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compile <workflow-file>",
		Short: "Compile a workflow file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			cfg := loadConfigOrDefaults()

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

			fmt.Printf("%s: %d step(s)\n", args[0], len(plan.Steps))
			for i, step := range plan.Steps {
				capture := ""
				if step.Invocation.HasOutput() {
					capture = " -> " + step.Invocation.OutputVar
				}
				uses := ""
				if len(step.References) > 0 {
					uses = " (uses " + strings.Join(step.References, ", ") + ")"
				}
				fmt.Printf("  %2d. [%s] %s%s%s\n", i+1, step.Descriptor.Source, step.Descriptor.Name, capture, uses)
			}
			return nil
		},
	}
}
