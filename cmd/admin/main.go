// Command admin inspects and maintains the mount database offline, and talks to the admin
// endpoints of a running server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"simplemounts.ai/internal/config"
	"simplemounts.ai/internal/persistence/store"
)

type rootOptions struct {
	ConfigPath string
	DBPath     string
	DataDir    string
	Format     string
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "admin",
		Short:         "Inspect and maintain stored mounts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.Format {
			case "text", "json":
				return nil
			}
			return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
		},
	}
	cmd.SetOut(out)
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to mounts.yaml (optional)")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "sqlite path (overrides storage.path)")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data", "", "runtime data directory (overrides storage.data_dir)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(
		newRecordsCmd(opts),
		newActiveCmd(opts),
		newStatsCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
		newPruneCmd(opts),
		newVacuumCmd(opts),
		newAuditCmd(opts),
		newStateCmd(opts),
		newRemoteExportCmd(opts),
	)
	return cmd
}

// settings resolves the storage section from the config file and flag overrides.
func (o *rootOptions) settings() (config.StorageConfig, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.StorageConfig{}, err
	}
	st := cfg.Storage
	if strings.TrimSpace(o.DBPath) != "" {
		st.Path = o.DBPath
	}
	if strings.TrimSpace(o.DataDir) != "" {
		st.DataDir = o.DataDir
	}
	return st, nil
}

func (o *rootOptions) openStore(ctx context.Context) (*store.SQLite, error) {
	st, err := o.settings()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(st.Path); err != nil {
		return nil, fmt.Errorf("open %s: %w", st.Path, err)
	}
	return store.Open(ctx, st.Path)
}

func (o *rootOptions) emitJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
