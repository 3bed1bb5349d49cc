package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/delivery-insights/internal/loader"
	"github.com/sells-group/delivery-insights/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the analysis operations over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initAnalysis(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		limiter := rate.NewLimiter(rate.Limit(cfg.Server.RatePerSecond), cfg.Server.RateBurst)
		router := newRouter(env, limiter)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("serving analysis API", zap.Int("port", port))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return eris.Wrap(srv.Shutdown(shutdownCtx), "shutdown server")
		case err := <-errCh:
			return eris.Wrap(err, "serve")
		}
	},
}

// newRouter builds the analysis API router over a prepared environment.
func newRouter(env *analysisEnv, limiter *rate.Limiter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))
	r.Use(throttle(limiter))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/attribution/{orderID}", func(w http.ResponseWriter, r *http.Request) {
		order := env.Index.Order(chi.URLParam(r, "orderID"))
		if order == nil {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		att, err := env.Engine.Attribute(order)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, att)
	})

	r.Get("/api/profile", func(w http.ResponseWriter, r *http.Request) {
		filter, err := filterFromQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		result, err := env.Analyzer.FailureProfile(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	r.Get("/api/compare", func(w http.ResponseWriter, r *http.Request) {
		cityA := r.URL.Query().Get("city_a")
		cityB := r.URL.Query().Get("city_b")
		if cityA == "" || cityB == "" {
			writeError(w, http.StatusBadRequest, "city_a and city_b are required")
			return
		}
		base, err := filterFromQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filterA := model.OrderFilter{City: loader.NormalizeLocationKey(cityA), From: base.From, To: base.To}
		filterB := model.OrderFilter{City: loader.NormalizeLocationKey(cityB), From: base.From, To: base.To}
		result, err := env.Analyzer.Compare(r.Context(), filterA, filterB)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	r.Get("/api/risk/festival", func(w http.ResponseWriter, r *http.Request) {
		filter, err := filterFromQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		proj, err := env.Analyzer.ProjectFestivalRisk(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, proj)
	})

	r.Get("/api/risk/scaling", func(w http.ResponseWriter, r *http.Request) {
		filter, err := filterFromQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		extra, err := strconv.Atoi(r.URL.Query().Get("extra_orders"))
		if err != nil || extra < 0 {
			writeError(w, http.StatusBadRequest, "extra_orders must be a non-negative integer")
			return
		}
		months := 1
		if m := r.URL.Query().Get("months"); m != "" {
			months, err = strconv.Atoi(m)
			if err != nil || months <= 0 {
				writeError(w, http.StatusBadRequest, "months must be a positive integer")
				return
			}
		}
		proj, err := env.Analyzer.ProjectScalingRisk(r.Context(), filter, extra, months)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, proj)
	})

	return r
}

// throttle rejects requests beyond the configured rate.
func throttle(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// filterFromQuery builds an order filter from shared query parameters.
func filterFromQuery(r *http.Request) (model.OrderFilter, error) {
	q := r.URL.Query()
	filter := model.OrderFilter{
		City:        loader.NormalizeLocationKey(q.Get("city")),
		ClientID:    q.Get("client"),
		WarehouseID: loader.NormalizeLocationKey(q.Get("warehouse")),
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			return model.OrderFilter{}, eris.Wrap(err, "parse from")
		}
		filter.From = &t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			return model.OrderFilter{}, eris.Wrap(err, "parse to")
		}
		end := t.Add(24*time.Hour - time.Nanosecond)
		filter.To = &end
	}
	return filter, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default: server.port)")
	rootCmd.AddCommand(serveCmd)
}
