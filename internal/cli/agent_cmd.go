package cli

import (
	"fmt"

	"github.com/soyeahso/loom/internal/domain"
	"github.com/spf13/cobra"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
	}

	cmd.AddCommand(newAgentListCmd())
	cmd.AddCommand(newAgentInfoCmd())
	cmd.AddCommand(newAgentPromoteCmd())
	cmd.AddCommand(newAgentDeleteCmd())
	return cmd
}

func newAgentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List resolvable agents across all tiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefaults()

			store, db, err := openStore(cfg)
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
			}

			resolver, _, _ := newFrontend(store)
			agents, err := resolver.List()
			if err != nil {
				return err
			}

			for _, a := range agents {
				path := a.Path
				if path == "" {
					path = "-"
				}
				fmt.Printf("  %-20s %-10s %s\n", a.Name, a.Source, path)
			}
			return nil
		},
	}
}

func newAgentInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "Show details about an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefaults()

			store, db, err := openStore(cfg)
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
			}

			resolver, _, _ := newFrontend(store)
			desc, err := resolver.Resolve(args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Agent:  %s\n", desc.Name)
			fmt.Printf("Source: %s\n", desc.Source)
			if desc.Path != "" {
				fmt.Printf("File:   %s\n", desc.Path)
			}

			if desc.Source == domain.SourceDefined {
				entry, ok, err := store.Get(desc.Name)
				if err != nil {
					return err
				}
				if ok {
					if entry.Description != "" {
						fmt.Printf("About:  %s\n", entry.Description)
					}
					fmt.Printf("Added:  %s\n", entry.Created.Format("2006-01-02 15:04"))
					fmt.Printf("Used:   %d time(s)\n", entry.UsageCount)
				}
			}
			return nil
		},
	}
}

func newAgentPromoteCmd() *cobra.Command {
	var (
		description string
		newName     string
	)

	cmd := &cobra.Command{
		Use:   "promote <name>",
		Short: "Promote a temporary agent into the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefaults()

			store, db, err := openStore(cfg)
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
			}

			_, _, manager := newFrontend(store)
			promoted, err := manager.Promote(args[0], newName, description)
			if err != nil {
				return err
			}
			if !promoted {
				return fmt.Errorf("no temporary agent named %q", args[0])
			}

			promotedAs := args[0]
			if newName != "" {
				promotedAs = newName
			}
			fmt.Printf("Promoted %s\n", promotedAs)
			return nil
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "description to store with the agent")
	cmd.Flags().StringVar(&newName, "as", "", "register under a different name")
	return cmd
}

func newAgentDeleteCmd() *cobra.Command {
	var temporary bool

	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a defined agent and its definition file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefaults()

			store, db, err := openStore(cfg)
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
			}

			_, _, manager := newFrontend(store)

			var deleted bool
			if temporary {
				deleted, err = manager.DeleteTemporary(args[0])
			} else {
				deleted, err = manager.Delete(args[0])
			}
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("no such agent: %s", args[0])
			}

			fmt.Printf("Deleted %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&temporary, "temp", false, "delete a temporary agent instead of a defined one")
	return cmd
}
