package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"fleet_ledger/internal/airworthiness"
	"fleet_ledger/internal/daemon"
	"fleet_ledger/internal/models"
	"fleet_ledger/internal/schedule"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger with the periodic schedule sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			d, err := daemon.New(cfg)
			if err != nil {
				return err
			}
			if err := d.Start(); err != nil {
				d.Stop()
				return err
			}

			// Setup signal handling for graceful shutdown
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			<-sigChan
			slog.Info("Received interrupt signal, shutting down...")

			return d.Stop()
		},
	}
}

func newDueCmd() *cobra.Command {
	var asOf string

	cmd := &cobra.Command{
		Use:   "due <aircraft-id>",
		Short: "Project an aircraft's schedules at a point in time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at := time.Now().UTC()
			if asOf != "" {
				parsed, err := time.Parse(time.RFC3339, asOf)
				if err != nil {
					return fmt.Errorf("invalid --as-of %q: %w", asOf, err)
				}
				at = parsed.UTC()
			}

			return withDaemon(func(ctx context.Context, d *daemon.Daemon) error {
				projections, err := d.Engine.DueSchedules(ctx, args[0], at)
				if err != nil {
					return err
				}
				return printOutput(cmd.OutOrStdout(), projections,
					[]string{"schedule", "trigger", "status", "due", "remaining"},
					dueRows(projections))
			})
		},
	}

	cmd.Flags().StringVar(&asOf, "as-of", "", "Evaluate at this RFC3339 time instead of now")
	return cmd
}

func newAirworthinessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "airworthiness <aircraft-id>",
		Short: "Show whether an aircraft may be released for flight",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDaemon(func(ctx context.Context, d *daemon.Daemon) error {
				report, err := d.Airworthiness.Airworthiness(ctx, args[0])
				if err != nil {
					return err
				}
				return printOutput(cmd.OutOrStdout(), report,
					[]string{"status", "kind", "code", "message"},
					reportRows(report))
			})
		},
	}
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <component-id>",
		Short: "List a component's installation segments, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDaemon(func(ctx context.Context, d *daemon.Daemon) error {
				segments, err := d.Ledger.History(ctx, args[0])
				if err != nil {
					return err
				}
				return printOutput(cmd.OutOrStdout(), segments,
					[]string{"segment", "aircraft", "location", "installed", "removed", "hours", "cycles"},
					historyRows(segments))
			})
		},
	}
}

// withDaemon wires the services for a one-shot command without starting
// the background sweep.
func withDaemon(fn func(ctx context.Context, d *daemon.Daemon) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}
	defer d.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, d)
}

func dueRows(projections []schedule.Projection) [][]string {
	rows := make([][]string, 0, len(projections))
	for _, p := range projections {
		rows = append(rows, []string{
			p.Schedule.ID,
			p.Trigger.Name,
			string(p.Status),
			formatDue(p.Due),
			formatRemaining(p),
		})
	}
	return rows
}

func reportRows(r *airworthiness.Report) [][]string {
	if len(r.Grounds) == 0 && len(r.Conditions) == 0 {
		return [][]string{{string(r.Status), "", "", ""}}
	}
	var rows [][]string
	for _, f := range r.Grounds {
		rows = append(rows, []string{string(r.Status), "ground", f.Code, f.Message})
	}
	for _, f := range r.Conditions {
		rows = append(rows, []string{string(r.Status), "condition", f.Code, f.Message})
	}
	return rows
}

func historyRows(segments []*models.InstallationSegment) [][]string {
	rows := make([][]string, 0, len(segments))
	for _, s := range segments {
		removed := "-"
		if s.RemovedAt != nil {
			removed = s.RemovedAt.Format(time.RFC3339)
		}
		total := s.Inherited.Add(s.Accumulated)
		rows = append(rows, []string{
			s.ID,
			s.AircraftID,
			s.Location,
			s.InstalledAt.Format(time.RFC3339),
			removed,
			total.Hours.String(),
			strconv.FormatInt(total.Cycles, 10),
		})
	}
	return rows
}

func formatDue(d models.DuePoint) string {
	switch {
	case d.Date != nil:
		return d.Date.Format(time.RFC3339)
	case d.Value != nil:
		return strconv.FormatInt(*d.Value, 10)
	default:
		return "-"
	}
}

func formatRemaining(p schedule.Projection) string {
	switch {
	case p.RemainingTime != nil:
		return p.RemainingTime.Round(time.Minute).String()
	case p.RemainingUnits != nil:
		return strconv.FormatInt(*p.RemainingUnits, 10)
	default:
		return "-"
	}
}

// printOutput renders data in the format chosen by --output. Table output
// uses headers and rows; JSON serializes data directly.
func printOutput(w io.Writer, data any, headers []string, rows [][]string) error {
	switch strings.ToLower(outputFormat) {
	case "json", "":
		return printJSON(w, data)
	case "table":
		return printTable(w, headers, rows)
	default:
		return fmt.Errorf("unsupported output format %q (supported: json, table)", outputFormat)
	}
}

// printJSON writes pretty-printed JSON to the writer.
func printJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func printTable(w io.Writer, headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, strings.ToUpper(strings.Join(headers, "\t")))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}
