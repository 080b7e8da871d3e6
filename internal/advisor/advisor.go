// Package advisor runs the recommendation pipeline: validate the request,
// fetch live weather, derive the weather code, classify, and optionally
// persist the result.
package advisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/lox/agriadvisor/internal/engine"
	"github.com/lox/agriadvisor/internal/logging"
	"github.com/lox/agriadvisor/internal/metrics"
	"github.com/lox/agriadvisor/internal/models"
	"github.com/lox/agriadvisor/internal/persist"
	"github.com/lox/agriadvisor/internal/validate"
	"github.com/lox/agriadvisor/internal/weather"
)

// ErrModelNotLoaded is returned while the service runs without classifier
// artifacts.
var ErrModelNotLoaded = errors.New("ML model not loaded")

var errNoStore = errors.New("datastore not configured")

type WeatherSource interface {
	Current(ctx context.Context, city string) (models.WeatherSnapshot, error)
}

type Persister interface {
	Persist(ctx context.Context, userID int64, snap models.WeatherSnapshot, res engine.Result, city string) persist.Outcome
}

type Service struct {
	weather       WeatherSource
	engine        *engine.Engine
	persister     Persister
	defaultUserID int64
}

// New wires the pipeline. A nil engine puts the service in degraded mode;
// a nil persister makes every Submit report saved=false.
func New(w WeatherSource, e *engine.Engine, p Persister, defaultUserID int64) *Service {
	if defaultUserID <= 0 {
		defaultUserID = 1
	}
	return &Service{weather: w, engine: e, persister: p, defaultUserID: defaultUserID}
}

func (s *Service) ModelLoaded() bool {
	return s.engine != nil
}

// ModelVersion is empty while no model is loaded.
func (s *Service) ModelVersion() string {
	if s.engine == nil {
		return ""
	}
	return s.engine.Version()
}

func (s *Service) DefaultUserID() int64 {
	return s.defaultUserID
}

type Recommendation struct {
	Input       models.PredictionInput
	Weather     models.WeatherSnapshot
	WeatherCode models.WeatherCode
	Result      engine.Result
}

type Submission struct {
	Recommendation
	Outcome persist.Outcome
}

// Recommend validates raw, fetches weather and classifies. Once started it
// runs to completion even if ctx is cancelled.
func (s *Service) Recommend(ctx context.Context, raw map[string]any) (Recommendation, error) {
	if s.engine == nil {
		return Recommendation{}, ErrModelNotLoaded
	}
	in, err := validate.ReadingInput(raw, s.defaultUserID)
	if err != nil {
		return Recommendation{}, err
	}
	return s.recommend(context.WithoutCancel(ctx), in)
}

func (s *Service) recommend(ctx context.Context, in models.PredictionInput) (Recommendation, error) {
	snap, err := s.weather.Current(ctx, in.City)
	if err != nil {
		return Recommendation{}, fmt.Errorf("fetch weather for %q: %w", in.City, err)
	}

	code := weather.ResolveCode(snap)
	res, err := s.engine.Predict(in.Nitrogen, in.Phosphorus, in.Potassium, in.LeafColor, code)
	if err != nil {
		return Recommendation{}, fmt.Errorf("predict: %w", err)
	}
	metrics.PredictionsTotal.WithLabelValues(res.Recommendation).Inc()

	logging.Ctx(ctx).Info().
		Str("city", snap.City).
		Str("condition", string(snap.Condition)).
		Float64("temperature", snap.TemperatureCelsius).
		Int("weather_code", int(code)).
		Str("recommendation", res.Recommendation).
		Float64("confidence", res.Confidence).
		Msg("recommendation computed")

	return Recommendation{Input: in, Weather: snap, WeatherCode: code, Result: res}, nil
}

// Submit runs Recommend and then persists the result. Persistence failures
// never fail the call; they surface only through Outcome.
func (s *Service) Submit(ctx context.Context, raw map[string]any) (Submission, error) {
	if s.engine == nil {
		return Submission{}, ErrModelNotLoaded
	}
	in, err := validate.PredictionInput(raw, s.defaultUserID)
	if err != nil {
		return Submission{}, err
	}

	ctx = context.WithoutCancel(ctx)
	rec, err := s.recommend(ctx, in)
	if err != nil {
		return Submission{}, err
	}

	if s.persister == nil {
		logging.Ctx(ctx).Error().Err(errNoStore).Msg("persistence skipped")
		return Submission{Recommendation: rec, Outcome: persist.Outcome{FailedAt: persist.StepSensor, Err: errNoStore}}, nil
	}
	out := s.persister.Persist(ctx, in.UserID, rec.Weather, rec.Result, in.City)
	return Submission{Recommendation: rec, Outcome: out}, nil
}

