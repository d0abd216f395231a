package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"simplemounts.ai/internal/lifecycle"
	"simplemounts.ai/internal/mount"
	"simplemounts.ai/internal/persistence/backup"
	persistlog "simplemounts.ai/internal/persistence/log"
	"simplemounts.ai/internal/persistence/store"
)

type recordRow struct {
	ID           int64     `json:"id"`
	Owner        string    `json:"owner"`
	Name         string    `json:"name,omitempty"`
	Kind         string    `json:"kind"`
	InventoryLen int       `json:"inventory_bytes"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

func newRecordsCmd(opts *rootOptions) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List stored mount records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			var recs []mount.Record
			if owner != "" {
				recs, err = db.ListByOwner(cmd.Context(), owner)
			} else {
				recs, err = db.ListAll(cmd.Context())
			}
			if err != nil {
				return err
			}
			rows := make([]recordRow, 0, len(recs))
			for _, r := range recs {
				rows = append(rows, recordRow{
					ID:           r.ID,
					Owner:        r.Owner,
					Name:         r.DisplayName(),
					Kind:         string(r.Kind),
					InventoryLen: len(r.Inventory),
					CreatedAt:    r.CreatedAt,
					LastAccessed: r.LastAccessed,
				})
			}
			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				return opts.emitJSON(out, rows)
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "no records")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tOWNER\tNAME\tKIND\tINVENTORY\tLAST ACCESSED")
			for _, r := range rows {
				name := r.Name
				if name == "" {
					name = "-"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Owner, name, r.Kind, humanize.Bytes(uint64(r.InventoryLen)), humanize.Time(r.LastAccessed))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "only records of this owner")
	return cmd
}

func newActiveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "List placement rows of mounts that are live in the world",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			rows, err := db.ListActive(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				return opts.emitJSON(out, rows)
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "no active mounts")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "LIVE ID\tOWNER\tRECORD\tWORLD\tPOSITION\tSPAWNED")
			for _, p := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%.1f,%.1f,%.1f\t%s\n",
					p.LiveID, p.Owner, p.RecordID, p.Placement.World,
					p.Placement.Pos.X, p.Placement.Pos.Y, p.Placement.Pos.Z, humanize.Time(p.SpawnedAt))
			}
			return tw.Flush()
		},
	}
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			st, err := db.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				return opts.emitJSON(out, st)
			}
			fmt.Fprintf(out, "records:        %s\n", humanize.Comma(int64(st.Records)))
			fmt.Fprintf(out, "owners:         %s\n", humanize.Comma(int64(st.Owners)))
			fmt.Fprintf(out, "active rows:    %s\n", humanize.Comma(int64(st.ActiveRows)))
			fmt.Fprintf(out, "size:           %s\n", humanize.Bytes(uint64(st.SizeBytes)))
			fmt.Fprintf(out, "schema version: %d\n", st.SchemaVersion)
			return nil
		},
	}
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export <path>",
		Short: "Write every record to a backup file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			h, err := backup.Export(cmd.Context(), db, args[0], time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %s records to %s\n", humanize.Comma(int64(h.Records)), args[0])
			return nil
		},
	}
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Load records from a backup file",
		Long:  "Load records from a backup file. Records whose id already exists are skipped unless --replace is set.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.settings()
			if err != nil {
				return err
			}
			db, err := openOrCreate(cmd, st.Path)
			if err != nil {
				return err
			}
			defer db.Close()
			n, err := backup.Import(cmd.Context(), db, args[0], replace)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %s records\n", humanize.Comma(int64(n)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "overwrite records with the same id")
	return cmd
}

func newPruneCmd(opts *rootOptions) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete records nobody touched for a while",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			db, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			cutoff := time.Now().Add(-olderThan)
			n, err := db.PruneUntouched(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %s records not accessed since %s\n",
				humanize.Comma(n), cutoff.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "minimum idle time")
	return cmd
}

func newVacuumCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Compact the database file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			before, _ := db.Stats(cmd.Context())
			if err := db.Vacuum(cmd.Context()); err != nil {
				return err
			}
			after, _ := db.Stats(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "vacuumed: %s -> %s\n",
				humanize.Bytes(uint64(before.SizeBytes)), humanize.Bytes(uint64(after.SizeBytes)))
			return nil
		},
	}
}

func newAuditCmd(opts *rootOptions) *cobra.Command {
	var (
		owner string
		op    string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print lifecycle audit entries, newest last",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.settings()
			if err != nil {
				return err
			}
			entries, err := persistlog.ReadAudit(st.DataDir)
			if err != nil {
				return err
			}
			filtered := entries[:0]
			for _, e := range entries {
				if owner != "" && e.Owner != owner {
					continue
				}
				if op != "" && !strings.EqualFold(e.Op, op) {
					continue
				}
				filtered = append(filtered, e)
			}
			if limit > 0 && len(filtered) > limit {
				filtered = filtered[len(filtered)-limit:]
			}
			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				return opts.emitJSON(out, filtered)
			}
			writeAudit(out, filtered)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "only entries of this owner")
	cmd.Flags().StringVar(&op, "op", "", "only entries of this operation")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries (0 for all)")
	return cmd
}

func writeAudit(w io.Writer, entries []lifecycle.AuditEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no audit entries")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tOP\tOWNER\tRECORD\tNAME\tRESULT\tDETAIL")
	for _, e := range entries {
		rec := "-"
		if e.RecordID != 0 {
			rec = fmt.Sprintf("#%d", e.RecordID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Time.UTC().Format(time.RFC3339), e.Op, e.Owner, rec, e.Name, e.Result, e.Detail)
	}
	_ = tw.Flush()
}

// openOrCreate opens path, creating the database and its directory when missing.
func openOrCreate(cmd *cobra.Command, path string) (*store.SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return store.Open(cmd.Context(), path)
}
