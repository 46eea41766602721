package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/rentdesk/internal/infra/backend"
	"github.com/vietddude/rentdesk/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the configured backend is reachable",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.RequestTimeout+5*time.Second)
	defer cancel()

	target := cfg.Backend.URL
	var (
		opts []backend.Option
		g    *backend.Guardian
		db   *postgres.DB
	)
	if cfg.Backend.Mode == backend.ModePostgres {
		target = cfg.Database.URL
		opts = append(opts, backend.WithProber(backend.ProberFunc(func(ctx context.Context) error {
			return g.Track(ctx, db.Health)
		})))
	}

	g = backend.NewGuardian(cfg.Backend, opts...)
	defer func() {
		_ = g.Close()
	}()
	if g.Initialize(target, cfg.Backend.Key) == nil && cfg.Backend.Mode == backend.ModePostgres {
		var err error
		db, err = postgres.Open(cfg.Database)
		if err != nil {
			slog.Error("Failed to open database", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = db.Close()
		}()
	}
	connected := g.CheckConnection(ctx)
	st := g.Status()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "MODE\tCONFIGURED\tCONNECTED\tATTEMPTS\tCHECKED")
	_, _ = fmt.Fprintf(w, "%s\t%t\t%t\t%d\t%s\n",
		cfg.Backend.Mode, st.Configured, connected, st.Attempts, st.LastCheckAt.Format(time.RFC3339))
	_ = w.Flush()

	if db != nil && connected {
		if v, err := db.MigrationVersion(ctx); err == nil {
			fmt.Printf("schema version: %d\n", v)
		}
	}
	if !connected {
		os.Exit(1)
	}
}
