// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/invowk/cougar/internal/config"
	"github.com/invowk/cougar/internal/logging"
	"github.com/invowk/cougar/internal/timing"
	"github.com/invowk/cougar/internal/venue"
	"github.com/invowk/cougar/pkg/operation"
)

type (
	// manifestService describes one registered service.
	manifestService struct {
		Namespace  string              `json:"namespace,omitempty" yaml:"namespace,omitempty"`
		Service    string              `json:"service" yaml:"service"`
		Version    string              `json:"version" yaml:"version"`
		Operations []manifestOperation `json:"operations" yaml:"operations"`
	}

	manifestOperation struct {
		Key        string                `json:"key" yaml:"key"`
		Kind       string                `json:"kind" yaml:"kind"`
		Parameters []operation.Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
		Returns    string                `json:"returns,omitempty" yaml:"returns,omitempty"`
		TimeoutMs  int64                 `json:"timeout_ms" yaml:"timeout_ms"`
		Stats      timing.Snapshot       `json:"stats" yaml:"stats"`
	}
)

func newOperationsCommand(app *App) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:     "operations",
		Aliases: []string{"ops"},
		Short:   "List registered operations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.listOperations(cmd.Context(), format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format: table, yaml or json")
	return cmd
}

func (a *App) listOperations(ctx context.Context, format string) (err error) {
	switch format {
	case "table", "yaml", "json":
	default:
		return fmt.Errorf("unknown format %q (valid: table, yaml, json)", format)
	}

	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}
	logger, err := logging.New(a.stderr, config.AppName, "warn")
	if err != nil {
		return err
	}
	rt, err := newVenueRuntime(cfg, logger)
	if err != nil {
		return err
	}
	if err := rt.start(ctx); err != nil {
		return err
	}
	defer func() {
		drainCtx, cancel := rt.drainContext(ctx)
		defer cancel()
		if stopErr := rt.stop(drainCtx); err == nil {
			err = stopErr
		}
	}()

	manifest := buildManifest(rt.container.Venue())
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(a.stdout)
		enc.SetIndent(2)
		if err := enc.Encode(manifest); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		return writeJSON(a.stdout, manifest)
	default:
		return renderOperationsTable(a.stdout, manifest)
	}
}

// buildManifest lists every registered operation, including the
// in-process aliases, with its effective timeout and statistics.
func buildManifest(sv *venue.ServiceVenue) []manifestService {
	regs := sv.Services()
	out := make([]manifestService, 0, len(regs))
	for _, reg := range regs {
		ms := manifestService{
			Namespace: reg.Namespace,
			Service:   reg.Service.Name,
			Version:   reg.Service.Version.String(),
		}
		for _, def := range reg.Service.Operations {
			key := def.Key.WithNamespace(reg.Namespace)
			op := manifestOperation{
				Key:        key.String(),
				Kind:       key.Kind().String(),
				Parameters: def.Parameters,
				Returns:    def.ReturnType,
			}
			if d, ok := sv.DefinedExecutable(key); ok {
				op.TimeoutMs = d.MaxExecutionTime().Milliseconds()
				op.Stats = d.Stats()
			}
			ms.Operations = append(ms.Operations, op)
		}
		out = append(out, ms)
	}
	return out
}

func renderOperationsTable(w io.Writer, manifest []manifestService) error {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(tableBorderStyle).
		Headers("KEY", "KIND", "PARAMS", "TIMEOUT", "CALLS", "FAULTS", "TIMEOUTS", "MEAN").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return tableCellStyle
		})

	count := 0
	for _, svc := range manifest {
		for _, op := range svc.Operations {
			timeout := "none"
			if op.TimeoutMs > 0 {
				timeout = strconv.FormatInt(op.TimeoutMs, 10) + "ms"
			}
			t.Row(
				CmdStyle.Render(op.Key),
				op.Kind,
				strconv.Itoa(len(op.Parameters)),
				timeout,
				strconv.FormatInt(op.Stats.Calls, 10),
				strconv.FormatInt(op.Stats.Faults, 10),
				strconv.FormatInt(op.Stats.Timeouts, 10),
				op.Stats.Mean().String(),
			)
			count++
		}
	}

	if _, err := fmt.Fprintln(w, TitleStyle.Render("Operations")); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, t.Render()); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, SubtitleStyle.Render(fmt.Sprintf("%d operations in %d registrations", count, len(manifest))))
	return err
}
