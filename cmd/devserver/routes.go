package main

import (
	"encoding/json"
	"html/template"
	"net/http"

	"github.com/HMasataka/agentws/internal/config"
	"github.com/HMasataka/agentws/internal/eventbus"
	"github.com/HMasataka/agentws/internal/hub"
	"github.com/HMasataka/agentws/internal/logging"
	"github.com/HMasataka/agentws/internal/session"
	"github.com/HMasataka/agentws/pkg/domain"
	"github.com/HMasataka/agentws/pkg/transport/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var loginPage = template.Must(template.New("login").Parse(`<!doctype html>
<title>Sign in</title>
<form method="post" action="{{.}}">
  <input name="token" placeholder="token">
  <button type="submit">Sign in</button>
</form>
`))

func newRouter(cfg *config.Config, h *hub.Hub, bus eventbus.Bus, registry *prometheus.Registry, logger *logging.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Handle(cfg.Client.Path, websocket.NewServer(
		websocket.WithHandler(h),
		websocket.WithLogger(logger),
		websocket.WithEventBus(bus),
	))
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Group(func(r chi.Router) {
		r.Use(session.Guard(session.GuardOptions{
			LoginPath: cfg.Server.LoginPath,
			HomePath:  cfg.Server.HomePath,
		}, logger))

		r.Get(cfg.Server.LoginPath, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_ = loginPage.Execute(w, cfg.Server.LoginPath)
		})
		r.Post(cfg.Server.LoginPath, login(cfg.Server.HomePath, logger))
		r.Post("/logout", logout(cfg.Server.LoginPath))
		r.Get(cfg.Server.HomePath, dashboard(h))
	})

	return r
}

func login(home string, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.FormValue("token")
		if token == "" {
			http.Error(w, "token is required", http.StatusBadRequest)
			return
		}

		cookie, err := session.Cookie(session.State{IsAuthenticated: true, Token: token})
		if err != nil {
			logger.Error("failed to build session cookie", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		http.SetCookie(w, cookie)
		http.Redirect(w, r, home, http.StatusFound)
	}
}

func logout(loginPath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, _ := session.Cookie(session.State{})
		cookie.MaxAge = -1
		http.SetCookie(w, cookie)
		http.Redirect(w, r, loginPath, http.StatusFound)
	}
}

func dashboard(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user":  session.FromRequest(r).Token,
			"stats": h.Stats(),
		})
	}
}

// metricsUpdate builds the periodic metrics frame from hub statistics
func metricsUpdate(stats hub.Stats) (domain.MessageType, domain.MetricsUpdate) {
	return domain.MessageTypeMetricsUpdate, domain.MetricsUpdate{
		Metrics: map[string]float64{
			"connected_peers":   float64(stats.ConnectedPeers),
			"messages_sent":     float64(stats.MessagesSent),
			"messages_received": float64(stats.MessagesReceived),
			"uptime_seconds":    stats.Uptime,
		},
	}
}
