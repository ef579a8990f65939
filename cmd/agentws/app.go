package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HMasataka/agentws/internal/config"
	"github.com/HMasataka/agentws/internal/logging"
	"github.com/HMasataka/agentws/internal/session"
	"github.com/HMasataka/agentws/internal/telemetry"
	"github.com/HMasataka/agentws/pkg/domain"
	"github.com/HMasataka/agentws/pkg/realtime"
	"github.com/HMasataka/agentws/pkg/transport/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// app is the wired client of one command invocation
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	store    *session.FileStore
	service  *realtime.Service
	registry *prometheus.Registry
}

func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{Path: flags.configPath})
	if err != nil {
		return nil, err
	}

	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
	}
	if flags.origin != "" {
		cfg.Client.Origin = flags.origin
	}
	if flags.token != "" {
		cfg.Client.Token = flags.token
	}
	if flags.sessionFile != "" {
		cfg.Session.File = flags.sessionFile
	}
	if flags.metricsAddr != "" {
		cfg.Metrics.Addr = flags.metricsAddr
	}

	return cfg, cfg.Validate()
}

func newApp(flags *globalFlags) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	// Logs go to stderr so that stdout carries only frames.
	logger := logging.NewWithWriter(cfg.Logging, os.Stderr)

	endpoint, err := cfg.Client.Endpoint()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	var tokens realtime.TokenProvider
	if cfg.Client.Token != "" {
		tokens = realtime.StaticToken(cfg.Client.Token)
	} else {
		store, err := session.Open(cfg.Session.File, logger)
		if err != nil {
			return nil, err
		}
		if !store.IsAuthenticated() {
			logger.Warn("session is not authenticated", "session_file", store.Path())
		}
		a.store = store
		tokens = store
	}

	a.service = realtime.New(realtime.Options{
		Endpoint: endpoint,
		Dialer:   websocket.NewDialer(logger, cfg.Client.TransportOptions()),
		Tokens:   tokens,
		Policy:   cfg.Client.Policy(),
		Logger:   logger,
		Metrics:  telemetry.New(a.registry),
	})

	a.service.OnStateChange(func(change domain.StateChange) {
		logger.Info("connection state", "from", change.From.String(), "to", change.To.String())
	})
	a.service.OnError(func(err error) {
		logger.Warn("connection error", "error", err)
	})

	return a, nil
}

// run connects and then blocks until ctx is done. The session file and the
// metrics endpoint are served alongside when configured.
func (a *app) run(ctx context.Context) error {
	defer a.service.Close()

	if a.store != nil {
		go func() {
			if err := a.store.Watch(ctx); err != nil {
				a.logger.Warn("session watch stopped", "error", err)
			}
		}()
	}

	if a.cfg.Metrics.Addr != "" {
		srv := a.metricsServer()
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server error", "error", err)
			}
		}()
		defer shutdown(srv)
	}

	// A failed first open keeps retrying in the background.
	if err := a.service.Connect(ctx); err != nil {
		a.logger.Warn("initial connect failed", "error", err)
	}

	<-ctx.Done()
	return nil
}

func (a *app) metricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// frameLine is one printed inbound frame
type frameLine struct {
	Type       domain.MessageType `json:"type"`
	Data       json.RawMessage    `json:"data,omitempty"`
	ReceivedAt time.Time          `json:"received_at"`
}

func printFrame(w io.Writer, msg *domain.Message) error {
	line, err := json.Marshal(frameLine{Type: msg.Type, Data: msg.Data, ReceivedAt: msg.ReceivedAt})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(line))
	return err
}
