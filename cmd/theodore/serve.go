package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AntoineDubuc/theodore/internal/progress"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the progress bus over HTTP for local inspection",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			os.Exit(exitConfig)
		}
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	bus, err := progress.NewBus(progress.Options{
		SnapshotPath: cfg.Progress.SnapshotPath,
		DatabasePath: cfg.Progress.DatabasePath,
		TailLogPath:  cfg.Progress.TailLogPath,
		MaxJobs:      cfg.Progress.MaxJobs,
		StaleAfter:   time.Duration(cfg.Progress.StaleJobMins) * time.Minute,
	})
	if err != nil {
		return err
	}
	defer bus.Close()

	router := buildRouter(bus)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("serving progress bus", zap.Int("port", cfg.Server.Port))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// buildRouter wires the read-only progress endpoints.
func buildRouter(bus *progress.Bus) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/jobs", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, bus.GetAll())
	})

	r.Get("/jobs/current", func(w http.ResponseWriter, _ *http.Request) {
		job := bus.GetCurrent()
		if job == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no job running"})
			return
		}
		writeJSON(w, http.StatusOK, job)
	})

	r.Get("/jobs/{jobID}", func(w http.ResponseWriter, req *http.Request) {
		job := bus.Get(chi.URLParam(req, "jobID"))
		if job == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
			return
		}
		writeJSON(w, http.StatusOK, job)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("serve: encode response", zap.Error(err))
	}
}
