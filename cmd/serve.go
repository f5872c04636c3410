package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/creatorpulse/trendwatch/internal/monitoring"
	"github.com/creatorpulse/trendwatch/internal/pipeline"
	"github.com/creatorpulse/trendwatch/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP trigger server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		p := pipeline.New(cfg, st, initLocker(st), initExplainer())
		collector := monitoring.NewCollector(st)

		router := newRouter(st, p, collector)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newRouter(st store.Store, p *pipeline.Pipeline, collector *monitoring.Collector) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/detect/{tenant}", func(w http.ResponseWriter, req *http.Request) {
			tenant := chi.URLParam(req, "tenant")
			result, err := p.Run(req.Context(), tenant)
			switch {
			case errors.Is(err, pipeline.ErrAlreadyRunning):
				writeJSON(w, http.StatusConflict, result)
			case err != nil:
				zap.L().Error("detection failed", zap.String("tenant", tenant), zap.Error(err))
				parkFailure(req.Context(), st, result, tenant, err)
				writeJSON(w, http.StatusInternalServerError, result)
			default:
				writeJSON(w, http.StatusOK, result)
			}
		})

		r.Get("/trends/{tenant}", func(w http.ResponseWriter, req *http.Request) {
			tenant := chi.URLParam(req, "tenant")
			trends, err := st.ListActiveTrends(req.Context(), tenant)
			if err != nil {
				zap.L().Error("list trends failed", zap.String("tenant", tenant), zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list trends failed"})
				return
			}
			writeJSON(w, http.StatusOK, trends)
		})

		r.Delete("/trends/{tenant}/{id}", func(w http.ResponseWriter, req *http.Request) {
			tenant := chi.URLParam(req, "tenant")
			id := chi.URLParam(req, "id")
			if err := st.ArchiveTrend(req.Context(), tenant, id); err != nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "trend not found"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "archived", "id": id})
		})

		r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
			snap, err := collector.Collect(req.Context(), 24)
			if err != nil {
				zap.L().Error("status collection failed", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "status collection failed"})
				return
			}
			writeJSON(w, http.StatusOK, snap)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
