// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/invowk/cougar/internal/config"
)

// newConfigCommand creates the `cougar config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage cougar configuration",
		Long: `Manage cougar configuration.

Configuration is stored in:
  - Linux: ~/.config/cougar/config.cue
  - macOS: ~/Library/Application Support/cougar/config.cue
  - Windows: %APPDATA%\cougar\config.cue

Every key can be overridden from the environment with the COUGAR_
prefix, for example COUGAR_EXECUTOR_WORKERS=16.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	var format string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.showConfig(cmd.Context(), config.Format(format))
		},
	}
	show.Flags().StringVarP(&format, "format", "f", string(config.FormatCUE), "output format: cue, toml or yaml")
	cfgCmd.AddCommand(show)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return app.showConfigPath()
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return app.initConfig(force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfgCmd.AddCommand(initCmd)

	return cfgCmd
}

func (a *App) showConfig(ctx context.Context, format config.Format) error {
	if err := format.Validate(); err != nil {
		return err
	}
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}
	out, err := config.Render(cfg, format)
	if err != nil {
		return err
	}
	_, err = a.stdout.Write(out)
	return err
}

func (a *App) configFilePath() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	dir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, config.ConfigFileName+"."+config.ConfigFileExt), nil
}

func (a *App) showConfigPath() error {
	path, err := a.configFilePath()
	if err != nil {
		return err
	}
	state := SuccessStyle.Render("exists")
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		state = SubtitleStyle.Render("(not created, using defaults)")
	}
	fmt.Fprintf(a.stdout, "%s %s\n", CmdStyle.Render(path), state)
	return nil
}

func (a *App) initConfig(force bool) error {
	path, err := a.configFilePath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if a.configPath == "" {
		if path, err = config.Save(config.DefaultConfig(), ""); err != nil {
			return err
		}
	} else if err := os.WriteFile(path, []byte(config.GenerateCUE(config.DefaultConfig())), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	fmt.Fprintf(a.stdout, "%s %s\n", SuccessStyle.Render("wrote"), CmdStyle.Render(path))
	return nil
}
