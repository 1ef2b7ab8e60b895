// Package logging builds the zap logger shared by all remedy components.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New constructs a console logger writing to stderr.
// Debug enables development encoding and debug-level output.
func New(debug bool) *zap.Logger {
	level := zapcore.InfoLevel
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if debug {
		level = zapcore.DebugLevel
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(zapcore.AddSync(os.Stderr)),
		level,
	)

	return zap.New(core)
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *zap.Logger {
	return zap.NewNop()
}
