package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"secureproxy/backend/domain"
	"secureproxy/backend/persist"
	"secureproxy/backend/repository/filestore"
	"secureproxy/backend/service/shared"
)

var commandConfigs = &cobra.Command{
	Use:   "configs",
	Short: "Manage saved proxy configs",
}

var commandConfigsList = &cobra.Command{
	Use:   "list",
	Short: "List saved configs (* marks the active one)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		repo, _, err := openConfigRepo()
		if err != nil {
			return err
		}
		items, err := repo.List(cmd.Context())
		if err != nil {
			return err
		}
		active, _ := repo.ActiveConfig(cmd.Context())

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "\tNAME\tSERVER\tSOCKS\tHTTP")
		for _, c := range items {
			mark := ""
			if active != nil && active.Name == c.Name {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s:%d\t%d\t%d\n", mark, c.Name, c.SNIHost, c.ServerPort, c.SOCKSPort, c.HTTPPort)
		}
		return w.Flush()
	},
}

var commandConfigsImport = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Validate and save a config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var cfg domain.ProxyConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("decode %s: %w", args[0], err)
		}
		repo, settings, err := openConfigRepo()
		if err != nil {
			return err
		}
		saved, err := repo.Save(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if activate, _ := cmd.Flags().GetBool("activate"); activate {
			if err := repo.SetActive(cmd.Context(), saved.Name); err != nil {
				return err
			}
			if err := settings.SaveNow(); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", saved.Name)
		return nil
	},
}

func init() {
	commandConfigsImport.Flags().Bool("activate", false, "select the imported config")
	commandConfigs.AddCommand(commandConfigsList, commandConfigsImport)
	mainCommand.AddCommand(commandConfigs)
}

func openConfigRepo() (*filestore.ConfigRepo, *persist.SettingsStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	layout := shared.NewLayout(cfg.DataDir)
	settings := persist.NewSettingsStore(layout.SettingsPath())
	if _, err := settings.Load(); err != nil {
		return nil, nil, err
	}
	return filestore.NewConfigRepo(layout.ConfigDir(), settings, nil), settings, nil
}
