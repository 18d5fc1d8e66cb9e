/*
Package handler provides the HTTP handlers and routing setup for the Instantly relay server.

This file defines the main Router, applying middleware like logging, CORS, and
IP-based rate limiting before delegating requests to the WebSocket handler,
the liveness probe, and the static client bundle.
*/
package handler

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"instantly/internal/pkg/limiter"
	"instantly/internal/pkg/logx"
	"instantly/internal/pkg/resp"
)

// Router sets up the main HTTP routing table (chi.Router) for the application.
// It initializes the WebSocket upgrade rate limiter, configures CORS, and
// applies global middleware before registering the routes.
func Router(deps *AppDeps) http.Handler {
	upgradeLimiter := limiter.NewIPRateLimiter(rate.Limit(deps.Config.WSRate), deps.Config.WSBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	var wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.Environment == "development" {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.Environment == "development" {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		data := map[string]string{
			"status":  "ok",
			"service": "instantly-server",
		}
		resp.RespondSuccess(w, data)
	})

	r.Get("/ws", HandleWebSocket(wsUpgrader, upgradeLimiter, deps))

	registerStatic(r, deps.Config.StaticDir)

	return r
}

// registerStatic serves the built client bundle out of staticDir, falling back
// to index.html for unknown paths so client-side routing keeps working. When
// the directory is absent the root serves a plain development hint instead.
func registerStatic(r chi.Router, staticDir string) {
	info, err := os.Stat(staticDir)
	if staticDir == "" || err != nil || !info.IsDir() {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Write([]byte("Instantly backend is running. Build the client bundle and set STATIC_DIR to serve it.\n"))
		})
		return
	}

	fileServer := http.FileServer(http.Dir(staticDir))
	indexPath := filepath.Join(staticDir, "index.html")

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.NotFound(w, req)
			return
		}

		candidate := filepath.Join(staticDir, filepath.Clean("/"+req.URL.Path))
		if stat, err := os.Stat(candidate); err == nil && !stat.IsDir() {
			fileServer.ServeHTTP(w, req)
			return
		}

		// SPA fallback: deep links resolve to the client entry point.
		if strings.HasPrefix(req.URL.Path, "/ws") {
			http.NotFound(w, req)
			return
		}
		http.ServeFile(w, req, indexPath)
	})
}
