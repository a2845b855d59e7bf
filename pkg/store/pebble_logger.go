package store

import (
	"fmt"

	"partitionstore/pkg/logger"
)

// engineLogger routes pebble's printf style logging into the slog logger.
type engineLogger struct {
	partition uint64
}

func (l engineLogger) Infof(format string, args ...interface{}) {
	logger.Debug("pebble_info", "partition", l.partition, "msg", fmt.Sprintf(format, args...))
}

func (l engineLogger) Errorf(format string, args ...interface{}) {
	logger.Error("pebble_error", "partition", l.partition, "msg", fmt.Sprintf(format, args...))
}

func (l engineLogger) Fatalf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logger.Error("pebble_fatal", "partition", l.partition, "msg", msg)
	logger.Sync()
	panic(msg)
}
