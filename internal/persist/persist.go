// Package persist records a completed recommendation as three rows: a
// sensor reading, a weather log and a prediction. Each insert commits on its
// own; a failure stops the sequence but leaves earlier rows in place, and is
// reported in the Outcome instead of returned as an error.
package persist

import (
	"context"
	"database/sql"
	"time"

	"github.com/lox/agriadvisor/internal/engine"
	"github.com/lox/agriadvisor/internal/logging"
	"github.com/lox/agriadvisor/internal/metrics"
	"github.com/lox/agriadvisor/internal/models"
)

// Recorder is the subset of the store the orchestrator writes through.
type Recorder interface {
	InsertSensorReading(ctx context.Context, r models.SensorReading) (int64, error)
	InsertWeatherLog(ctx context.Context, w models.WeatherLog) (int64, error)
	InsertPrediction(ctx context.Context, p models.Prediction) (int64, error)
}

type Step string

const (
	StepNone       Step = ""
	StepSensor     Step = "sensor_reading"
	StepWeather    Step = "weather_log"
	StepPrediction Step = "prediction"
)

// Outcome reports how far a Persist call got. IDs are set for every step
// that committed; FailedAt and Err describe the step that stopped it.
type Outcome struct {
	SensorID     *int64
	WeatherLogID *int64
	PredictionID *int64
	FailedAt     Step
	Err          error
}

// Saved reports whether all three rows were written.
func (o Outcome) Saved() bool {
	return o.FailedAt == StepNone && o.PredictionID != nil
}

// Orphaned reports whether a sensor or weather row was committed without a
// prediction referencing it.
func (o Outcome) Orphaned() bool {
	return o.PredictionID == nil && (o.SensorID != nil || o.WeatherLogID != nil)
}

type Orchestrator struct {
	rec Recorder
	now func() time.Time
}

func New(rec Recorder) *Orchestrator {
	return &Orchestrator{rec: rec, now: time.Now}
}

type step struct {
	name Step
	run  func(ctx context.Context, o *Outcome) error
}

// Persist writes the rows for one recommendation in order, stopping at the
// first failure. It never returns an error; inspect the Outcome.
func (p *Orchestrator) Persist(ctx context.Context, userID int64, snap models.WeatherSnapshot, res engine.Result, city string) Outcome {
	now := p.now().UTC()
	fetchedAt := snap.Timestamp
	if fetchedAt.IsZero() {
		fetchedAt = now
	}

	steps := []step{
		{StepSensor, func(ctx context.Context, o *Outcome) error {
			id, err := p.rec.InsertSensorReading(ctx, models.SensorReading{
				UserID:         userID,
				AirTemperature: sql.NullFloat64{Float64: snap.TemperatureCelsius, Valid: true},
				AirHumidity:    sql.NullFloat64{Float64: snap.HumidityPercent, Valid: true},
				SensorID:       sql.NullString{String: "api-" + city, Valid: true},
				RecordedAt:     now,
			})
			if err == nil {
				o.SensorID = &id
			}
			return err
		}},
		{StepWeather, func(ctx context.Context, o *Outcome) error {
			id, err := p.rec.InsertWeatherLog(ctx, weatherLog(userID, city, snap, fetchedAt))
			if err == nil {
				o.WeatherLogID = &id
			}
			return err
		}},
		{StepPrediction, func(ctx context.Context, o *Outcome) error {
			version := res.ModelVersion
			if version == "" {
				version = models.DefaultModelVersion
			}
			id, err := p.rec.InsertPrediction(ctx, models.Prediction{
				UserID:          userID,
				SensorDataID:    sql.NullInt64{Int64: *o.SensorID, Valid: true},
				WeatherLogID:    sql.NullInt64{Int64: *o.WeatherLogID, Valid: true},
				ConfidenceScore: res.Confidence,
				Recommendation:  res.Recommendation,
				ModelVersion:    version,
				PredictionType:  models.PredictionTypeFertilizer,
				CreatedAt:       now,
			})
			if err == nil {
				o.PredictionID = &id
			}
			return err
		}},
	}

	var out Outcome
	for _, s := range steps {
		if err := s.run(ctx, &out); err != nil {
			out.FailedAt = s.name
			out.Err = err
			break
		}
	}

	p.report(ctx, userID, out)
	return out
}

func weatherLog(userID int64, city string, snap models.WeatherSnapshot, fetchedAt time.Time) models.WeatherLog {
	location := city
	if location == "" {
		location = snap.City
	}
	w := models.WeatherLog{
		UserID:           userID,
		Location:         location,
		Latitude:         snap.Details.Latitude,
		Longitude:        snap.Details.Longitude,
		Temperature:      snap.TemperatureCelsius,
		FeelsLike:        snap.Details.FeelsLike,
		Humidity:         snap.HumidityPercent,
		Pressure:         snap.Details.Pressure,
		WindSpeed:        snap.Details.WindSpeed,
		WeatherCondition: sql.NullString{String: string(snap.Condition), Valid: snap.Condition != ""},
		FetchedAt:        fetchedAt,
	}
	if snap.Details.Description != "" {
		w.WeatherDescription = sql.NullString{String: snap.Details.Description, Valid: true}
	}
	if snap.Details.RawJSON != "" {
		w.APIResponse = sql.NullString{String: snap.Details.RawJSON, Valid: true}
	}
	return w
}

func (p *Orchestrator) report(ctx context.Context, userID int64, out Outcome) {
	if out.Saved() {
		metrics.PersistenceTotal.WithLabelValues("saved", "").Inc()
		logging.Ctx(ctx).Info().
			Int64("user_id", userID).
			Int64("prediction_id", *out.PredictionID).
			Msg("recommendation persisted")
		return
	}

	metrics.PersistenceTotal.WithLabelValues("failed", string(out.FailedAt)).Inc()
	ev := logging.Ctx(ctx).Error().
		Err(out.Err).
		Int64("user_id", userID).
		Str("failed_step", string(out.FailedAt)).
		Bool("orphaned", out.Orphaned())
	if out.SensorID != nil {
		ev = ev.Int64("sensor_id", *out.SensorID)
	}
	if out.WeatherLogID != nil {
		ev = ev.Int64("weather_log_id", *out.WeatherLogID)
	}
	ev.Msg("persistence failed; recommendation still returned")
}
