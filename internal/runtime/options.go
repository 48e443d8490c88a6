package runtime

import (
	"fmt"
	"log/slog"

	"github.com/tjfontaine/polyglot-time-awareness/internal/config"
	"github.com/tjfontaine/polyglot-time-awareness/internal/core/ports"
)

// Option is a functional option for configuring a Service.
type Option func(*Service) error

// WithFileConfig loads path and watches it for changes. The log level and
// the system timezone follow the file at runtime; other settings need a
// restart.
func WithFileConfig(path string) Option {
	return func(s *Service) error {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if path == "" {
			path = config.DefaultPath
		}
		s.cfg = cfg
		s.configPath = path
		return nil
	}
}

// WithConfig uses an already loaded configuration without watching.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) error {
		if cfg == nil {
			return fmt.Errorf("config cannot be nil")
		}
		s.cfg = cfg
		return nil
	}
}

// WithWatch watches path for changes to a configuration given with
// WithConfig.
func WithWatch(path string) Option {
	return func(s *Service) error {
		if path == "" {
			return fmt.Errorf("watch path cannot be empty")
		}
		s.configPath = path
		return nil
	}
}

// WithLogger sets the logger. level, when non-nil, is the LevelVar behind
// the logger's handler and is updated on config reload.
func WithLogger(logger *slog.Logger, level *slog.LevelVar) Option {
	return func(s *Service) error {
		s.logger = logger
		s.level = level
		return nil
	}
}

// WithCorrelationStore overrides the store selected by correlation.backend.
func WithCorrelationStore(store ports.CorrelationStore) Option {
	return func(s *Service) error {
		s.store = store
		return nil
	}
}

// WithNotifier adds a status notifier next to the configured ones.
func WithNotifier(n ports.StatusNotifier) Option {
	return func(s *Service) error {
		s.extraNotifiers = append(s.extraNotifiers, n)
		return nil
	}
}
