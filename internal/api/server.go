package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/agriadvisor/internal/advisor"
	"github.com/lox/agriadvisor/internal/logging"
	"github.com/lox/agriadvisor/internal/models"
)

// DefaultCORSOrigins are the local front-end dev servers.
var DefaultCORSOrigins = []string{
	"http://localhost:3001",
	"http://127.0.0.1:3001",
	"http://localhost:5173",
	"http://127.0.0.1:5173",
}

var endpoints = []string{
	"/predict",
	"/submit-data",
	"/history",
	"/history/latest",
	"/sensor-data",
	"/weather-logs",
	"/users/{id}",
	"/forecast",
	"/fertilizers",
	"/health",
}

// Store is the read side of the datastore the HTTP surface needs.
type Store interface {
	Ping(ctx context.Context) error
	MigrationVersion(ctx context.Context) (int, error)
	ListPredictions(ctx context.Context, f models.HistoryFilter) ([]models.PredictionRecord, error)
	LatestPrediction(ctx context.Context, userID int64) (models.PredictionRecord, error)
	ListSensorReadings(ctx context.Context, f models.RangeFilter) ([]models.SensorReading, error)
	ListWeatherLogs(ctx context.Context, f models.RangeFilter) ([]models.WeatherLog, error)
	GetUser(ctx context.Context, id int64) (models.User, error)
}

type Forecaster interface {
	Forecast(ctx context.Context, city string, days int) ([]models.ForecastPoint, error)
	Configured() bool
}

type Config struct {
	Port        string
	CORSOrigins []string
	// RateLimit is requests per minute per client IP on the POST
	// endpoints. Zero disables limiting.
	RateLimit int
}

type Server struct {
	svc      *advisor.Service
	store    Store
	forecast Forecaster
	cfg      Config
}

// NewServer builds the HTTP surface. store and forecast may be nil; the
// endpoints that need them then answer 503.
func NewServer(svc *advisor.Service, store Store, forecast Forecaster, cfg Config) *Server {
	if cfg.Port == "" {
		cfg.Port = "5000"
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = DefaultCORSOrigins
	}
	return &Server{svc: svc, store: store, forecast: forecast, cfg: cfg}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(corsHandler(s.cfg.CORSOrigins))

	limit := rateLimit(s.cfg.RateLimit)
	r.With(limit).Post("/predict", s.handlePredict)
	r.With(limit).Post("/submit-data", s.handleSubmit)

	r.Get("/history", s.handleHistory)
	r.Get("/history/latest", s.handleLatest)
	r.Get("/sensor-data", s.handleSensorData)
	r.Get("/weather-logs", s.handleWeatherLogs)
	r.Get("/users/{id}", s.handleUser)
	r.Get("/forecast", s.handleForecast)
	r.Get("/fertilizers", s.handleFertilizers)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
	})
	return r
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logging.Info().Str("addr", server.Addr).Strs("cors_origins", s.cfg.CORSOrigins).Msg("http server listening")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
