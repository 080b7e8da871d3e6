package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lox/agriadvisor/internal/models"
)

func rangeLimit(f models.RangeFilter) int {
	if f.Limit <= 0 {
		return models.DefaultHistoryLimit
	}
	return f.Limit
}

func (s *Store) InsertSensorReading(ctx context.Context, r models.SensorReading) (int64, error) {
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now().UTC()
	}
	id, err := s.insertReturningID(ctx, `
		INSERT INTO sensor_data (user_id, soil_moisture, air_temperature, air_humidity, soil_temperature, soil_ph, light_intensity, sensor_id, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, r.UserID, r.SoilMoisture, r.AirTemperature, r.AirHumidity, r.SoilTemperature, r.SoilPH, r.LightIntensity, r.SensorID, r.RecordedAt)
	if err != nil {
		return 0, fmt.Errorf("insert sensor reading: %w", err)
	}
	return id, nil
}

func (s *Store) InsertWeatherLog(ctx context.Context, w models.WeatherLog) (int64, error) {
	if w.FetchedAt.IsZero() {
		w.FetchedAt = time.Now().UTC()
	}
	id, err := s.insertReturningID(ctx, `
		INSERT INTO weather_logs (user_id, location, latitude, longitude, temperature, feels_like, humidity, pressure, wind_speed, weather_condition, weather_description, api_response, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, w.UserID, w.Location, w.Latitude, w.Longitude, w.Temperature, w.FeelsLike, w.Humidity, w.Pressure, w.WindSpeed, w.WeatherCondition, w.WeatherDescription, w.APIResponse, w.FetchedAt)
	if err != nil {
		return 0, fmt.Errorf("insert weather log: %w", err)
	}
	return id, nil
}

func (s *Store) InsertPrediction(ctx context.Context, p models.Prediction) (int64, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.ModelVersion == "" {
		p.ModelVersion = models.DefaultModelVersion
	}
	if p.PredictionType == "" {
		p.PredictionType = models.PredictionTypeFertilizer
	}
	id, err := s.insertReturningID(ctx, `
		INSERT INTO predictions (user_id, sensor_data_id, weather_log_id, confidence_score, recommendation, crop_type, model_version, prediction_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, p.UserID, p.SensorDataID, p.WeatherLogID, p.ConfidenceScore, p.Recommendation, p.CropType, p.ModelVersion, p.PredictionType, p.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert prediction: %w", err)
	}
	return id, nil
}

const predictionRecordSelect = `
	SELECT p.id, p.user_id, p.sensor_data_id, p.weather_log_id, p.confidence_score, p.recommendation,
		p.crop_type, p.model_version, p.prediction_type, p.created_at,
		s.soil_moisture, s.air_temperature, s.air_humidity,
		w.location, w.temperature, w.humidity, w.weather_condition
	FROM predictions p
	LEFT JOIN sensor_data s ON p.sensor_data_id = s.id
	LEFT JOIN weather_logs w ON p.weather_log_id = w.id
`

func scanPredictionRecord(row interface{ Scan(...any) error }) (models.PredictionRecord, error) {
	var r models.PredictionRecord
	err := row.Scan(
		&r.ID, &r.UserID, &r.SensorDataID, &r.WeatherLogID, &r.ConfidenceScore, &r.Recommendation,
		&r.CropType, &r.ModelVersion, &r.PredictionType, &r.CreatedAt,
		&r.SoilMoisture, &r.AirTemperature, &r.AirHumidity,
		&r.Location, &r.WeatherTemp, &r.WeatherHumidity, &r.WeatherCondition,
	)
	return r, err
}

// ListPredictions returns a user's predictions, newest first, each joined
// with whichever sensor and weather rows it references.
func (s *Store) ListPredictions(ctx context.Context, f models.HistoryFilter) ([]models.PredictionRecord, error) {
	query := predictionRecordSelect + " WHERE p.user_id = ?"
	args := []any{f.UserID}
	if f.PredictionType != "" {
		query += " AND p.prediction_type = ?"
		args = append(args, f.PredictionType)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = models.DefaultHistoryLimit
	}
	query += " ORDER BY p.created_at DESC, p.id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	defer rows.Close()

	records := []models.PredictionRecord{}
	for rows.Next() {
		r, err := scanPredictionRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// LatestPrediction returns the user's newest prediction or ErrNotFound.
func (s *Store) LatestPrediction(ctx context.Context, userID int64) (models.PredictionRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(predictionRecordSelect+`
		WHERE p.user_id = ?
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT 1
	`), userID)
	r, err := scanPredictionRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PredictionRecord{}, ErrNotFound
	}
	if err != nil {
		return models.PredictionRecord{}, fmt.Errorf("query latest prediction: %w", err)
	}
	return r, nil
}

func (s *Store) ListSensorReadings(ctx context.Context, f models.RangeFilter) ([]models.SensorReading, error) {
	query := `
		SELECT id, user_id, soil_moisture, air_temperature, air_humidity, soil_temperature, soil_ph, light_intensity, sensor_id, recorded_at
		FROM sensor_data
		WHERE user_id = ?`
	args := []any{f.UserID}
	if !f.Since.IsZero() {
		query += " AND recorded_at >= ?"
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		query += " AND recorded_at <= ?"
		args = append(args, f.Until.UTC())
	}
	query += " ORDER BY recorded_at DESC, id DESC LIMIT ?"
	args = append(args, rangeLimit(f))

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query sensor readings: %w", err)
	}
	defer rows.Close()

	var readings []models.SensorReading
	for rows.Next() {
		var r models.SensorReading
		if err := rows.Scan(&r.ID, &r.UserID, &r.SoilMoisture, &r.AirTemperature, &r.AirHumidity, &r.SoilTemperature, &r.SoilPH, &r.LightIntensity, &r.SensorID, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan sensor reading: %w", err)
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

func (s *Store) ListWeatherLogs(ctx context.Context, f models.RangeFilter) ([]models.WeatherLog, error) {
	query := `
		SELECT id, user_id, location, latitude, longitude, temperature, feels_like, humidity, pressure, wind_speed, weather_condition, weather_description, api_response, fetched_at
		FROM weather_logs
		WHERE user_id = ?`
	args := []any{f.UserID}
	if !f.Since.IsZero() {
		query += " AND fetched_at >= ?"
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		query += " AND fetched_at <= ?"
		args = append(args, f.Until.UTC())
	}
	query += " ORDER BY fetched_at DESC, id DESC LIMIT ?"
	args = append(args, rangeLimit(f))

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query weather logs: %w", err)
	}
	defer rows.Close()

	var logs []models.WeatherLog
	for rows.Next() {
		var w models.WeatherLog
		if err := rows.Scan(&w.ID, &w.UserID, &w.Location, &w.Latitude, &w.Longitude, &w.Temperature, &w.FeelsLike, &w.Humidity, &w.Pressure, &w.WindSpeed, &w.WeatherCondition, &w.WeatherDescription, &w.APIResponse, &w.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan weather log: %w", err)
		}
		logs = append(logs, w)
	}
	return logs, rows.Err()
}
