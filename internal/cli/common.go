package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/kiln/internal/cas"
	"github.com/roach88/kiln/internal/store"
)

// openCAS opens the store named by --cas, or the environment default.
func openCAS(opts *RootOptions) (*cas.Store, error) {
	if opts.CASRoot != "" {
		return cas.New(opts.CASRoot)
	}
	return cas.FromEnvOrDefault()
}

// openLedger opens the ledger at path. The caller closes it.
func openLedger(path string) (*store.Store, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	slog.Debug("ledger open", "path", path)
	return st, nil
}

func closeLedger(st *store.Store) {
	if err := st.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// signalContext derives a context cancelled on SIGINT or SIGTERM.
// Uses the command's context if available (for testing).
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
