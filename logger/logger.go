// Package logger owns the process-wide zap logger used by the etl binary.
//
// Components take a *zap.SugaredLogger and name it for themselves; the CLI
// passes Logger after Initialize has applied the -v count and output mode.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is a no-op until Initialize runs
	Logger = zap.NewNop().Sugar()

	// JSONOutput records the mode chosen by Initialize
	JSONOutput bool

	level = zap.NewAtomicLevel()
)

// Initialize replaces Logger. JSON mode uses zap's production encoder
// without sampling; console mode writes colored lines to stderr so
// command output on stdout stays clean.
func Initialize(jsonOutput bool, verbosity int) error {
	level.SetLevel(VerbosityToLevel(verbosity))

	var (
		base *zap.Logger
		err  error
	)
	if jsonOutput {
		cfg := zap.NewProductionConfig()
		cfg.Level = level
		cfg.Sampling = nil
		base, err = cfg.Build()
		if err != nil {
			return err
		}
	} else {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		base = zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), level))
	}

	JSONOutput = jsonOutput
	Logger = base.Sugar()
	return nil
}

// Cleanup flushes buffered entries before exit
func Cleanup() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
