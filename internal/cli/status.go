package cli

import (
	"fmt"

	"github.com/soyeahso/loom/internal/config"
	"github.com/soyeahso/loom/internal/dispatch"
	"github.com/soyeahso/loom/internal/domain"
	"github.com/soyeahso/loom/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show loom status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("Loom %s (commit %s)\n\n", version.Version, version.Commit)

			// Show paths
			fmt.Printf("Config:  %s\n", paths.Config)
			fmt.Printf("Agents:  %s\n", paths.Agents)
			fmt.Printf("Temp:    %s\n", paths.TempAgents)
			fmt.Printf("Data:    %s\n", paths.Data)
			fmt.Println()

			// Load config; missing files fall back to defaults inside Load
			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Printf("Config:  error loading: %v\n", err)
				return nil
			}

			// Registry backend
			backend := cfg.Registry.Backend
			if backend == "" {
				backend = "json"
			}
			fmt.Printf("Registry: backend=%s\n", backend)

			// Dispatcher
			if dispatch.CommandExists(cfg.Dispatch.Command) {
				fmt.Printf("Runner:   %s (found)\n", cfg.Dispatch.Command)
			} else {
				fmt.Printf("Runner:   %s (NOT FOUND in PATH)\n", cfg.Dispatch.Command)
			}
			fmt.Printf("Model:    %s\n", cfg.Workflow.DefaultModel)

			// Gateway config
			port := cfg.Gateway.Port
			if port == 0 {
				port = 18990
			}
			bind := cfg.Gateway.Bind
			if bind == "" {
				bind = "loopback"
			}
			fmt.Printf("Gateway:  port=%d bind=%s auth=%s\n",
				port, bind, cfg.Gateway.Auth.Mode)

			// Agent counts per tier
			store, db, err := openStore(cfg)
			if err == nil {
				if db != nil {
					defer db.Close()
				}
				resolver, _, _ := newFrontend(store)
				if agents, err := resolver.List(); err == nil {
					counts := map[domain.AgentSource]int{}
					for _, a := range agents {
						counts[a.Source]++
					}
					fmt.Printf("Agents:   builtin=%d defined=%d temporary=%d\n",
						counts[domain.SourceBuiltin],
						counts[domain.SourceDefined],
						counts[domain.SourceTemporary])
				}
			}

			// Validation
			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Printf("\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	return cmd
}
