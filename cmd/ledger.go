package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/exofeat/internal/runlog"
)

// openLedger opens the configured run ledger. A ledger that cannot be opened is
// logged and replaced with one that records nothing.
func openLedger(ctx context.Context) runlog.Ledger {
	l, err := runlog.Open(ctx, cfg.Store)
	if err != nil {
		zap.L().Warn("run ledger unavailable, runs will not be recorded",
			zap.String("driver", cfg.Store.Driver), zap.Error(err))
		return runlog.Nop{}
	}
	return l
}

// recordRun wraps fn in a ledger entry for command.
func recordRun(ctx context.Context, ledger runlog.Ledger, command string, params map[string]string, fn func() (*runlog.Result, error)) error {
	log := zap.L().With(zap.String("command", command))
	id, err := ledger.Start(ctx, command, params)
	if err != nil {
		log.Warn("failed to record run start", zap.Error(err))
	}

	res, runErr := fn()
	if id == "" {
		return runErr
	}
	if runErr != nil {
		if err := ledger.Fail(ctx, id, runErr.Error()); err != nil {
			log.Warn("failed to record run failure", zap.Error(err))
		}
		return runErr
	}
	if err := ledger.Complete(ctx, id, res); err != nil {
		log.Warn("failed to record run completion", zap.Error(err))
	}
	return nil
}
