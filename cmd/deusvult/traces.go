package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/deusvult/pkg/deusvult/config"
	"github.com/randalmurphal/deusvult/pkg/deusvult/observability"
	"github.com/randalmurphal/deusvult/pkg/deusvult/observability/sink"
)

func newTracesCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "traces",
		Short: "Show recent trace records from the SQLite sink",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			return runTraces(cmd.Context(), settings, limit, jsonOutput, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of records to show")
	return cmd
}

func runTraces(ctx context.Context, settings *config.Settings, limit int, asJSON bool, out io.Writer) error {
	if settings.Sink.Kind != config.SinkSQLite {
		return fmt.Errorf("traces reads the sqlite sink, configured sink is %q", settings.Sink.Kind)
	}

	backend, err := sink.NewSQLiteBackend(settings.Sink.SQLitePath, settings.Sink.Table)
	if err != nil {
		return err
	}
	defer backend.Close()

	records, err := backend.Recent(ctx, limit)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	printTraceTable(out, records)
	return nil
}

func printTraceTable(out io.Writer, records []observability.TraceRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTRACE\tSPAN\tNAME\tSTATUS\tDURATION")
	for _, r := range records {
		name := r.SpanName
		if len(name) > 40 {
			name = name[:37] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			time.Unix(0, r.Timestamp).UTC().Format("2006-01-02 15:04:05.000"),
			r.TraceID,
			r.SpanID,
			name,
			r.StatusCode,
			time.Duration(r.Duration),
		)
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d records\n", len(records))
}
