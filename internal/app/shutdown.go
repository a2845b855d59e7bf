package app

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"partitionstore/pkg/logger"
)

// Shutdown stops the components in reverse start order and closes every
// partition. ctx bounds the metrics server drain.
func (a *App) Shutdown(ctx context.Context) error {
	a.state.Store("shutting_down")
	logger.Info("shutdown_requested")
	var result *multierror.Error

	if a.srvFast != nil {
		done := make(chan error, 1)
		go func() { done <- a.srvFast.Shutdown() }()
		select {
		case err := <-done:
			if err != nil {
				result = multierror.Append(result, err)
			}
		case <-ctx.Done():
			logger.Warn("metrics_server_shutdown_timeout")
			if a.ln != nil {
				_ = a.ln.Close()
			}
		}
	}
	// the pruner holds snapshots while it runs, so it stops before the
	// partitions close
	if a.prunerStop != nil {
		logger.Info("shutdown_stopping_pruner")
		a.prunerStop()
	}
	if a.hwSensor != nil {
		logger.Info("shutdown_stopping_sensor")
		a.hwSensor.Stop()
	}

	logger.Info("shutdown_closing_partitions", "count", a.mgr.Len())
	if err := a.mgr.CloseAll(); err != nil {
		logger.Error("shutdown_close_partitions_failed", "error", err)
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		a.state.Store("failed")
		return err
	}
	a.state.Store("stopped")
	logger.Info("shutdown_complete")
	return nil
}
