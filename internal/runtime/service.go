// Package runtime assembles the filter service from its configuration and
// manages its lifecycle.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/tjfontaine/polyglot-time-awareness/internal/adapters/events/fanout"
	"github.com/tjfontaine/polyglot-time-awareness/internal/adapters/events/logstatus"
	"github.com/tjfontaine/polyglot-time-awareness/internal/adapters/events/rabbitmq"
	"github.com/tjfontaine/polyglot-time-awareness/internal/adapters/events/webhook"
	"github.com/tjfontaine/polyglot-time-awareness/internal/annotation"
	"github.com/tjfontaine/polyglot-time-awareness/internal/annotation/correlation"
	"github.com/tjfontaine/polyglot-time-awareness/internal/annotation/marker"
	"github.com/tjfontaine/polyglot-time-awareness/internal/auth"
	"github.com/tjfontaine/polyglot-time-awareness/internal/config"
	"github.com/tjfontaine/polyglot-time-awareness/internal/core/ports"
	"github.com/tjfontaine/polyglot-time-awareness/internal/pipeline"
	"github.com/tjfontaine/polyglot-time-awareness/internal/server"
	"github.com/tjfontaine/polyglot-time-awareness/internal/storage/sqlite"
	"github.com/tjfontaine/polyglot-time-awareness/internal/timectx"
	"github.com/tjfontaine/polyglot-time-awareness/internal/tokens"
)

// Service is the running filter: correlation store, notifiers, annotation
// filter, pipelines and HTTP host.
type Service struct {
	cfg            *config.Config
	configPath     string
	logger         *slog.Logger
	level          *slog.LevelVar
	store          ports.CorrelationStore
	extraNotifiers []ports.StatusNotifier

	notifier *fanout.Notifier
	rabbit   *rabbitmq.Notifier
	renderer *timectx.Renderer
	filter   *annotation.Filter
	server   *server.Server
	watcher  *config.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// New builds a Service. A configuration must be supplied with
// WithFileConfig or WithConfig.
func New(ctx context.Context, opts ...Option) (*Service, error) {
	s := &Service{}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if s.cfg == nil {
		return nil, fmt.Errorf("config required (use WithFileConfig or WithConfig)")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	if err := s.build(ctx); err != nil {
		s.closeResources()
		return nil, err
	}
	return s, nil
}

func (s *Service) build(ctx context.Context) error {
	cfg := s.cfg

	if s.store == nil {
		store, err := newCorrelationStore(cfg.Correlation, s.logger)
		if err != nil {
			return fmt.Errorf("create correlation store: %w", err)
		}
		s.store = store
	}

	if err := s.initNotifiers(ctx); err != nil {
		return err
	}

	s.renderer = timectx.New(timectx.Config{
		SystemTimezone: cfg.Filter.SystemTimezone,
		Notifier:       s.notifier,
		Logger:         s.logger,
	})

	codec, err := marker.NewCodec()
	if err != nil {
		return fmt.Errorf("create marker codec: %w", err)
	}

	filterCfg := annotation.Config{
		Codec:    codec,
		Store:    s.store,
		Renderer: s.renderer,
		Logger:   s.logger,
	}
	if cfg.Filter.CountTokens {
		filterCfg.Counter = tokens.NewCounter()
	}
	s.filter, err = annotation.New(filterCfg)
	if err != nil {
		return err
	}

	pipelines := make(map[string]ports.PipelineExecutor, len(cfg.Pipelines))
	for _, p := range cfg.Pipelines {
		exec, err := pipeline.NewExecutorFromConfig(p, s.filter, cfg.PriorityFor(p), s.logger)
		if err != nil {
			return fmt.Errorf("pipeline %s: %w", p.ID, err)
		}
		pipelines[p.ID] = exec
	}

	timeout, err := config.ParseDuration(cfg.Server.Timeout, 0)
	if err != nil {
		return fmt.Errorf("server.timeout: %w", err)
	}

	s.server = server.New(server.Config{
		Port:          cfg.Server.Port,
		Timeout:       timeout,
		Logger:        s.logger,
		Authenticator: auth.NewAuthenticator(cfg.Server.APIKeys),
		Pipelines:     pipelines,
		Store:         s.store,
	})
	return nil
}

func newCorrelationStore(cfg config.CorrelationConfig, logger *slog.Logger) (ports.CorrelationStore, error) {
	ttl, err := config.ParseDuration(cfg.TTL, 0)
	if err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case "", "memory":
		return correlation.NewTable(correlation.Options{
			Capacity:      cfg.Capacity,
			TTL:           ttl,
			ConsumeOnRead: cfg.ConsumeOnRead,
			Logger:        logger,
		}), nil
	case "sqlite":
		return sqlite.New(cfg.SQLite.Path, sqlite.Options{
			TTL:           ttl,
			MaxRows:       cfg.Capacity,
			ConsumeOnRead: cfg.ConsumeOnRead,
			Logger:        logger,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func (s *Service) initNotifiers(ctx context.Context) error {
	ncfg := s.cfg.Notifications
	targets := make([]ports.StatusNotifier, 0, 3+len(s.extraNotifiers))

	if ncfg.Log {
		targets = append(targets, logstatus.NewNotifier(s.logger, slog.LevelInfo))
	}

	if ncfg.Webhook.URL != "" {
		timeout, err := config.ParseDuration(ncfg.Webhook.Timeout, 0)
		if err != nil {
			return fmt.Errorf("notifications.webhook.timeout: %w", err)
		}
		wh, err := webhook.NewNotifier(webhook.Config{
			URL:     ncfg.Webhook.URL,
			Timeout: timeout,
			Retries: ncfg.Webhook.Retries,
			Headers: ncfg.Webhook.Headers,

			BlockPrivate: ncfg.Webhook.BlockPrivate,
		})
		if err != nil {
			return fmt.Errorf("create webhook notifier: %w", err)
		}
		targets = append(targets, wh)
	}

	if ncfg.RabbitMQ.URL != "" {
		rb, err := rabbitmq.Dial(ctx, rabbitmq.Config{
			URL:        ncfg.RabbitMQ.URL,
			Exchange:   ncfg.RabbitMQ.Exchange,
			RoutingKey: ncfg.RabbitMQ.RoutingKey,
			AppID:      s.cfg.Tracing.ServiceName,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("create rabbitmq notifier: %w", err)
		}
		s.rabbit = rb
		targets = append(targets, rb)
	}

	targets = append(targets, s.extraNotifiers...)
	s.notifier = fanout.New(targets...)
	return nil
}

// Handler returns the HTTP handler serving the filter pipelines.
func (s *Service) Handler() http.Handler {
	return s.server.Router
}

// Start serves HTTP in the background and, when the configuration came
// from a file, begins watching it.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.configPath != "" {
		w, err := config.NewWatcher(s.configPath, s.cfg, s.logger)
		if err != nil {
			return err
		}
		if err := w.Watch(s.ctx, s.Reload); err != nil {
			s.logger.Warn("config hot reload disabled", slog.String("error", err.Error()))
		} else {
			s.watcher = w
		}
	}

	go func() {
		if err := s.server.Start(); err != nil {
			s.logger.Error("server failed", slog.String("error", err.Error()))
		}
	}()

	s.logger.Info("time awareness filter started",
		slog.Int("port", s.cfg.Server.Port),
		slog.Int("pipelines", len(s.cfg.Pipelines)),
		slog.String("correlation_backend", s.cfg.Correlation.Backend),
		slog.Int("notifiers", s.notifier.Len()),
	)
	return nil
}

// Reload applies the runtime-changeable settings of cfg.
func (s *Service) Reload(cfg *config.Config) {
	if s.level != nil {
		level, err := config.ParseLogLevel(cfg.Logging.Level)
		if err != nil {
			s.logger.Error("ignoring log level", slog.String("error", err.Error()))
		} else if level != s.level.Level() {
			s.level.Set(level)
			s.logger.Info("log level changed", slog.String("level", cfg.Logging.Level))
		}
	}

	// An empty zone falls back to the host zone, as at startup.
	want := strings.TrimSpace(cfg.Filter.SystemTimezone)
	if want == "" {
		want = timectx.DefaultSystemTimezone()
	}
	if prev := s.renderer.SystemTimezone(); want != prev {
		s.renderer.SetSystemTimezone(want)
		s.logger.Info("system timezone changed",
			slog.String("from", prev),
			slog.String("to", want))
	}
}

// Shutdown stops the HTTP host and releases the store and notifiers.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("shutting down")

	if s.cancel != nil {
		s.cancel()
	}

	var err error
	if s.server != nil {
		if err = s.server.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
		}
	}
	if s.renderer != nil {
		// Let pending status events reach the notifiers before they close.
		s.renderer.Wait()
	}
	s.closeResources()

	s.logger.Info("shutdown complete")
	return err
}

func (s *Service) closeResources() {
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			s.logger.Error("failed to close config watcher", slog.String("error", err.Error()))
		}
		s.watcher = nil
	}
	if s.rabbit != nil {
		if err := s.rabbit.Close(); err != nil {
			s.logger.Error("failed to close rabbitmq", slog.String("error", err.Error()))
		}
		s.rabbit = nil
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close correlation store", slog.String("error", err.Error()))
		}
		s.store = nil
	}
}
