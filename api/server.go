package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/GBERESEARCH/voldiscount/internal/config"
	"github.com/GBERESEARCH/voldiscount/pkg/models"
	"github.com/GBERESEARCH/voldiscount/pkg/params"
	"github.com/GBERESEARCH/voldiscount/pkg/termstructure"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// maxBodyBytes caps request bodies; tables are small.
const maxBodyBytes = 4 << 20

type Server struct {
	cfg     *config.Config
	logger  *logrus.Logger
	router  chi.Router
	limiter *clientLimiter
}

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// PointRequest asks for a single fill at Target.
type PointRequest struct {
	Table  models.TermStructure   `json:"table"`
	Target termstructure.Target   `json:"target"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// FillRequest asks for every expiry to be filled relative to ValuationDate.
type FillRequest struct {
	Table         models.TermStructure   `json:"table"`
	ValuationDate time.Time              `json:"valuation_date"`
	Expiries      []time.Time            `json:"expiries"`
	Params        map[string]interface{} `json:"params,omitempty"`
}

type BatchRequest struct {
	Jobs   []termstructure.Job    `json:"jobs"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// TableResponse carries the resulting table. Filled is false and Error set
// when the table came back unchanged for lack of data.
type TableResponse struct {
	Table  models.TermStructure `json:"table"`
	Filled bool                 `json:"filled"`
	Added  int                  `json:"added"`
	Error  string               `json:"error,omitempty"`
}

type BatchResult struct {
	Name   string               `json:"name"`
	Table  models.TermStructure `json:"table"`
	Filled bool                 `json:"filled"`
	Added  int                  `json:"added"`
	Error  string               `json:"error,omitempty"`
}

type pointOp func(*termstructure.Filler, models.TermStructure, termstructure.Target) (models.TermStructure, error)

var pointOps = map[string]pointOp{
	"interpolate":       (*termstructure.Filler).Interpolate,
	"extrapolate_early": (*termstructure.Filler).ExtrapolateEarly,
	"extrapolate_late":  (*termstructure.Filler).ExtrapolateLate,
}

func NewServer(cfg *config.Config, logger *logrus.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
	}
	if cfg.RateLimit.RequestsPerSecond > 0 {
		burst := cfg.RateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = newClientLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), burst)
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting API server on port %d", s.cfg.Server.Port)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	s.logger.Info("Shutting down API server")
	return httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))
	if s.limiter != nil {
		r.Use(rateLimit(s.limiter, s.logger))
	}

	r.Get("/api/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/api/params", s.handleParams)
		r.Route("/api/term-structure", func(r chi.Router) {
			r.Post("/interpolate", s.handlePoint("interpolate"))
			r.Post("/extrapolate/early", s.handlePoint("extrapolate_early"))
			r.Post("/extrapolate/late", s.handlePoint("extrapolate_late"))
			r.Post("/fill", s.handleFill)
			r.Post("/batch", s.handleBatch)
		})
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
		},
	})
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.cfg.Calibration})
}

func (s *Server) handlePoint(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PointRequest
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		resp, err := s.applyPoint(op, req)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: resp})
	}
}

func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	var req FillRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.applyFill(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: resp})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for i, job := range req.Jobs {
		if job.Valuation.IsZero() {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("jobs[%d] (%s): valuation_date is required", i, job.Name))
			return
		}
	}
	filler, err := s.fillerFor(req.Params)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := filler.FillBatch(r.Context(), req.Jobs, s.cfg.Batch.Concurrency)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	out := make([]BatchResult, len(results))
	for i, res := range results {
		out[i] = BatchResult{
			Name:   res.Name,
			Table:  res.Table,
			Filled: res.Added > 0,
			Added:  res.Added,
		}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
		}
	}
	s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: out})
}

// applyPoint runs one of the single-point fills. Insufficient data is part of
// the response, not an error; errors are reserved for bad requests.
// A target without years gets days/365; explicit years are kept as sent.
func (s *Server) applyPoint(op string, req PointRequest) (*TableResponse, error) {
	fn, ok := pointOps[op]
	if !ok {
		return nil, fmt.Errorf("unknown operation %q", op)
	}
	if req.Target.Years == 0 && req.Target.Days != 0 {
		req.Target.Years = float64(req.Target.Days) / 365.0
	}
	filler, err := s.fillerFor(req.Params)
	if err != nil {
		return nil, err
	}
	table, fillErr := fn(filler, req.Table, req.Target)
	return tableResponse(req.Table, table, fillErr), nil
}

func (s *Server) applyFill(req FillRequest) (*TableResponse, error) {
	if req.ValuationDate.IsZero() {
		return nil, errors.New("valuation_date is required")
	}
	filler, err := s.fillerFor(req.Params)
	if err != nil {
		return nil, err
	}
	table, fillErr := filler.FillExpiries(req.Table, req.ValuationDate, req.Expiries)
	return tableResponse(req.Table, table, fillErr), nil
}

func (s *Server) fillerFor(overrides map[string]interface{}) (*termstructure.Filler, error) {
	p, err := params.Overlay(s.cfg.Calibration, overrides)
	if err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	return termstructure.NewFiller(p, s.logger), nil
}

func tableResponse(in, out models.TermStructure, err error) *TableResponse {
	resp := &TableResponse{
		Table: out,
		Added: out.Len() - in.Len(),
	}
	resp.Filled = resp.Added > 0
	if err != nil {
		resp.Error = err.Error()
	}
	if resp.Table == nil {
		resp.Table = models.TermStructure{}
	}
	return resp
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, APIResponse{Success: false, Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
