// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/invowk/cougar/internal/issue"
)

func newIssueCommand(app *App) *cobra.Command {
	var style string
	cmd := &cobra.Command{
		Use:   "issue [id]",
		Short: "Explain an error reported by cougar",
		Long: `Without arguments, list the issue catalogue. With an id, render that
issue's explanation and fixes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 {
				return app.listIssues()
			}
			return app.showIssue(args[0], style)
		},
	}
	cmd.Flags().StringVar(&style, "style", "dark", "glamour style: dark, light, notty or a style file")
	return cmd
}

func (a *App) listIssues() error {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(tableBorderStyle).
		Headers("ID", "TITLE").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return tableCellStyle
		})
	for _, i := range issue.Values() {
		t.Row(CmdStyle.Render(strconv.Itoa(int(i.Id()))), i.Title())
	}
	_, err := fmt.Fprintln(a.stdout, t.Render())
	return err
}

func (a *App) showIssue(raw, style string) error {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("issue id %q is not a number", raw)
	}
	i := issue.Get(issue.Id(n))
	if i == nil {
		return fmt.Errorf("no issue %d (run 'cougar issue' for the list)", n)
	}
	out, err := i.Render(style)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(a.stdout, out)
	return err
}
