package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ppiankov/icsrisk/internal/alert"
	"github.com/ppiankov/icsrisk/internal/assess"
	"github.com/ppiankov/icsrisk/internal/audit"
	"github.com/ppiankov/icsrisk/internal/iec62443"
	"github.com/ppiankov/icsrisk/internal/store"
)

// runtimeDeps holds what a command opened and must close.
type runtimeDeps struct {
	runner    *assess.Runner
	catalogue *iec62443.Catalogue
	ledger    *audit.Ledger
	repo      *store.SQLite
	alerts    *alert.Dispatcher
}

func (d *runtimeDeps) Close() {
	d.alerts.Wait()
	if d.ledger != nil {
		if err := d.ledger.Close(); err != nil {
			logger.Sugar().Warnf("close ledger: %v", err)
		}
	}
	if d.repo != nil {
		if err := d.repo.Close(); err != nil {
			logger.Sugar().Warnf("close history: %v", err)
		}
	}
}

// openRuntime loads the catalogue and builds a runner. With record set the
// runner appends to the audit ledger and saves to the history database.
// Configured alert webhooks are notified either way.
func openRuntime(ctx context.Context, record bool) (*runtimeDeps, error) {
	cat, err := iec62443.LoadCatalogue(cfg.Catalogue.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalogue: %w", err)
	}
	deps := &runtimeDeps{catalogue: cat}

	opts := []assess.Option{assess.WithLogger(logger)}
	if deps.alerts = alert.NewDispatcher(cfg.Alerts, logger); deps.alerts != nil {
		opts = append(opts, assess.WithNotifier(deps.alerts))
	}
	if record {
		if cfg.Audit.Path != "" {
			deps.ledger, err = audit.Open(cfg.Audit.Path)
			if err != nil {
				return nil, fmt.Errorf("failed to open audit ledger: %w", err)
			}
			opts = append(opts, assess.WithLedger(deps.ledger))
		}
		if cfg.Store.Path != "" {
			deps.repo, err = store.OpenSQLite(ctx, cfg.Store.Path, logger)
			if err != nil {
				deps.Close()
				return nil, fmt.Errorf("failed to open history: %w", err)
			}
			opts = append(opts, assess.WithRepository(deps.repo))
		}
	}

	deps.runner, err = assess.NewRunner(cfg.Engine, assess.StaticCatalogue(cat), opts...)
	if err != nil {
		deps.Close()
		return nil, err
	}
	return deps, nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func jsonOutput() bool { return outputFormat == "json" }
