package executor

import (
	"fmt"
	"log/slog"

	"github.com/mattjoyce/zika/internal/config"
	"github.com/mattjoyce/zika/internal/dispatch"
	"github.com/mattjoyce/zika/internal/log"
)

// New builds the executor selected by cfg.Mode.
func New(cfg config.ExecutorConfig, logger *slog.Logger) (dispatch.Executor, error) {
	if logger == nil {
		logger = log.WithComponent("executor")
	}
	switch cfg.Mode {
	case config.ModeProcess:
		return NewProcess(ProcessOptions{
			Shell:          cfg.Shell,
			HostToolsPath:  cfg.HostToolsPath,
			Timeout:        cfg.Timeout,
			KillGrace:      cfg.KillGrace,
			MaxOutputBytes: cfg.MaxOutputBytes,
		}, logger), nil
	case config.ModePipe:
		return NewPipe(cfg.FIFOPath, cfg.Timeout, logger), nil
	default:
		return nil, fmt.Errorf("unknown executor mode %q", cfg.Mode)
	}
}
