package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehr/patientdesk/internal/display"
	"github.com/ehr/patientdesk/internal/domain/encounter"
	"github.com/ehr/patientdesk/internal/domain/patient"
)

// printTable waits for every pending encounter lookup, then writes the table.
func (a *app) printTable(w io.Writer, format string) error {
	a.roster.Wait()
	rows := a.roster.Table().Snapshot()
	switch format {
	case "", "text":
		return display.WriteText(w, rows)
	case "html":
		return display.WriteHTML(w, rows)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	default:
		return fmt.Errorf("unknown output format %q (want text, html or json)", format)
	}
}

// abandoned reports a silently abandoned operation as success.
func abandoned(err error) bool {
	return errors.Is(err, patient.ErrAbandoned)
}

func searchCmd(a *app) *cobra.Command {
	var (
		count  int
		format string
	)
	cmd := &cobra.Command{
		Use:   "search <name>",
		Short: "Search patients by name and show their latest encounter dates",
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.Join(args, " ")
			if _, err := a.roster.Search(cmd.Context(), name, count); err != nil {
				if abandoned(err) {
					return nil
				}
				return err
			}
			return a.printTable(cmd.OutOrStdout(), format)
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "maximum number of patients (_count); 0 uses SEARCH_COUNT")
	cmd.Flags().StringVarP(&format, "output", "o", "text", "output format: text, html or json")
	return cmd
}

func createCmd(a *app) *cobra.Command {
	var (
		names  patient.NameChange
		format string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a patient with one given and one family name",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.roster.Create(cmd.Context(), names); err != nil {
				if abandoned(err) {
					return nil
				}
				return err
			}
			return a.printTable(cmd.OutOrStdout(), format)
		},
	}
	cmd.Flags().StringVar(&names.Given, "given", "", "given name")
	cmd.Flags().StringVar(&names.Family, "family", "", "family name")
	cmd.Flags().StringVarP(&format, "output", "o", "text", "output format: text, html or json")
	return cmd
}

func updateCmd(a *app) *cobra.Command {
	var (
		names  patient.NameChange
		format string
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace a patient's first given name and family name",
		Long:  "Replace a patient's first given name and family name. A name left unset keeps its current value.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := a.roster.Show(ctx, args[0]); err != nil {
				return err
			}
			actions, _ := a.roster.Actions(args[0])
			if _, err := actions.Update(ctx, names); err != nil {
				if abandoned(err) {
					return nil
				}
				return err
			}
			return a.printTable(cmd.OutOrStdout(), format)
		},
	}
	cmd.Flags().StringVar(&names.Given, "given", "", "new given name (default: current)")
	cmd.Flags().StringVar(&names.Family, "family", "", "new family name (default: current)")
	cmd.Flags().StringVarP(&format, "output", "o", "text", "output format: text, html or json")
	return cmd
}

func deleteCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			row, err := a.roster.Show(ctx, args[0])
			if abandoned(err) {
				return nil
			}
			if err != nil {
				a.logger.Warn().Err(err).Str("patient_id", args[0]).Msg("read before delete failed; confirming by id")
				row = a.roster.Add(ctx, patient.Patient{ID: args[0]})
			}
			if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), row) {
				return nil
			}
			actions, _ := a.roster.Actions(args[0])
			if err := actions.Delete(ctx); err != nil {
				return fmt.Errorf("patient %s removed from the table but the server reported: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted patient %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "delete without asking for confirmation")
	return cmd
}

// confirm asks on out and reads one answer from in. Only y or yes confirms.
func confirm(in io.Reader, out io.Writer, row *display.Row) bool {
	name := strings.TrimSpace(row.Patient.Given + " " + row.Patient.Family)
	if name == "" {
		fmt.Fprintf(out, "Delete patient %s? [y/N] ", row.ID())
	} else {
		fmt.Fprintf(out, "Delete patient %s (%s)? [y/N] ", row.ID(), name)
	}
	answer, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func encounterCmd(a *app) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "encounter <id>",
		Short: "Show the date of a patient's latest encounter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res := a.resolver.Resolve(cmd.Context(), args[0])
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.Text())
			if verbose && res.Source != "" {
				fmt.Fprintf(out, "source: %s (%s)\n", res.Source, res.Raw)
			}
			if res.Status == encounter.StatusError {
				return fmt.Errorf("latest encounter lookup failed: %w", res.Err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "also show which field the date came from")
	return cmd
}

func requestLogCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "requestlog",
		Short: "List recent requests made to the FHIR server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.requestLog == nil {
				return errors.New("request log is disabled; set DATABASE_URL")
			}
			entries, err := a.requestLog.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tREQUEST ID\tINTERACTION\tMETHOD\tPATH\tSTATUS\tLATENCY\tERROR")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					e.Timestamp.Format(time.RFC3339), e.RequestID, e.Kind, e.Method, e.Path,
					e.StatusCode, e.Duration, e.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "number of entries to show")
	return cmd
}
