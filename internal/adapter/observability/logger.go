package observability

import (
	"log/slog"
	"os"

	"github.com/fairyhunter13/skillpath-ai/internal/config"
)

// SetupLogger builds the process-wide JSON slog logger. Every record
// carries the service name and environment so log aggregation can split
// streams per deployment.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts)).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}
