package serving

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/fraud-pipeline/internal/config"
	"github.com/sells-group/fraud-pipeline/internal/model"
	"github.com/sells-group/fraud-pipeline/internal/tracking"
)

const (
	aliveMessage      = "Fraud Detection API is running. Go to /docs for Swagger UI."
	noModelMessage    = "Model not loaded. Please check logs and run ETL script."
	analyzedMessage   = "Transaction analyzed successfully."
	maxPredictBodyLen = 64 << 10
)

// SummarySource provides dashboard run summaries.
type SummarySource interface {
	Summarize(ctx context.Context, experiment string) (*tracking.Summary, error)
}

// Server is the inference HTTP server.
type Server struct {
	cfg        config.ServingConfig
	experiment string
	predictor  *Predictor
	refresher  *Refresher
	summaries  SummarySource
	registry   *prometheus.Registry
	metrics    *Metrics
}

// NewServer wires a predictor and refresher around resolver. summaries may be
// nil, in which case /api/runs reports an error.
func NewServer(cfg config.ServingConfig, experiment string, resolver *Resolver, summaries SummarySource) *Server {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	resolver.OnLoad(func(src Source) { m.ModelLoads.WithLabelValues(string(src)).Inc() })

	p := NewPredictor(cfg.Threshold)
	return &Server{
		cfg:        cfg,
		experiment: experiment,
		predictor:  p,
		refresher:  NewRefresher(resolver, p, experiment, cfg.RefreshInterval()),
		summaries:  summaries,
		registry:   reg,
		metrics:    m,
	}
}

// Predictor returns the server's predictor.
func (s *Server) Predictor() *Predictor { return s.predictor }

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": aliveMessage})
	})
	r.Post("/predict", s.handlePredict)
	r.Get("/health", s.handleHealth)
	r.Get("/api/model", s.handleModel)
	r.Get("/api/runs", s.handleRuns)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

type predictResponse struct {
	IsFraud          *int     `json:"is_fraud,omitempty"`
	FraudProbability *float64 `json:"fraud_probability,omitempty"`
	Message          string   `json:"message,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// handlePredict always answers 200 with either a prediction or an error object.
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req model.Transaction
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPredictBodyLen)).Decode(&req); err != nil {
		s.metrics.Predictions.WithLabelValues("error").Inc()
		writeJSON(w, http.StatusOK, predictResponse{Error: "invalid request: " + err.Error()})
		return
	}

	pred, err := s.predictor.Predict(req)
	if err != nil {
		s.metrics.Predictions.WithLabelValues("error").Inc()
		msg := err.Error()
		if errors.Is(err, model.ErrNoModel) {
			msg = noModelMessage
		}
		zap.L().Warn("serving: prediction failed", zap.Error(err))
		writeJSON(w, http.StatusOK, predictResponse{Error: msg})
		return
	}

	outcome := "legit"
	if pred.IsFraud == 1 {
		outcome = "fraud"
	}
	s.metrics.Predictions.WithLabelValues(outcome).Inc()
	writeJSON(w, http.StatusOK, predictResponse{
		IsFraud:          &pred.IsFraud,
		FraudProbability: &pred.FraudProbability,
		Message:          analyzedMessage,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"model_loaded": s.predictor.Bundle() != nil,
	})
}

func (s *Server) handleModel(w http.ResponseWriter, _ *http.Request) {
	b := s.predictor.Bundle()
	if b == nil {
		writeJSON(w, http.StatusOK, map[string]string{"error": noModelMessage})
		return
	}
	writeJSON(w, http.StatusOK, b.Info())
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.summaries == nil {
		writeJSON(w, http.StatusOK, map[string]string{"error": "run summaries unavailable"})
		return
	}
	sum, err := s.summaries.Summarize(r.Context(), s.experiment)
	if err != nil {
		zap.L().Warn("serving: summarize runs", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// instrument records request counts and latency by route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.metrics.Latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// writeJSON encodes v before touching the response, so a value that cannot
// be encoded still yields a JSON error body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		zap.L().Error("serving: encode response", zap.Error(err))
		body, _ = json.Marshal(map[string]string{"error": "response could not be encoded: " + err.Error()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		zap.L().Debug("serving: write response", zap.Error(err))
	}
}

// Serve loads the initial model, then runs the HTTP server and the refresher
// until ctx is cancelled. A missing model is not fatal: /predict reports it
// until a refresh succeeds.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.refresher.Refresh(ctx); err != nil {
		zap.L().Warn("serving: starting without a model", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zap.L().Info("serving: listening", zap.Int("port", s.cfg.Port), zap.String("experiment", s.experiment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "serving: listen")
		}
		return nil
	})
	g.Go(func() error {
		return s.refresher.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		zap.L().Info("serving: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
