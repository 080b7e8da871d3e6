package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/lox/agriadvisor/internal/engine"
	"github.com/lox/agriadvisor/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type weatherView struct {
	City               string  `json:"city"`
	Condition          string  `json:"condition"`
	RainExpected       bool    `json:"rain_expected"`
	TemperatureCelsius float64 `json:"temperature_celsius"`
	HumidityPercent    float64 `json:"humidity_percent"`
}

func newWeatherView(s models.WeatherSnapshot) weatherView {
	return weatherView{
		City:               s.City,
		Condition:          string(s.Condition),
		RainExpected:       s.RainExpected,
		TemperatureCelsius: s.TemperatureCelsius,
		HumidityPercent:    s.HumidityPercent,
	}
}

type predictResponse struct {
	Recommendation string              `json:"recommendation"`
	Confidence     float64             `json:"confidence"`
	Weather        weatherView         `json:"weather"`
	InputSummary   engine.InputSummary `json:"input_summary"`
	Explanation    *engine.Explanation `json:"explanation,omitempty"`
	Report         string              `json:"report,omitempty"`
}

type submitResponse struct {
	Recommendation string      `json:"recommendation"`
	Confidence     float64     `json:"confidence"`
	Weather        weatherView `json:"weather"`
	Saved          bool        `json:"saved"`
	PredictionID   *int64      `json:"prediction_id"`
}

type predictionView struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	SensorDataID    *int64    `json:"sensor_data_id"`
	WeatherLogID    *int64    `json:"weather_log_id"`
	ConfidenceScore float64   `json:"confidence_score"`
	Recommendation  string    `json:"recommendation"`
	CropType        *string   `json:"crop_type"`
	ModelVersion    string    `json:"model_version"`
	PredictionType  string    `json:"prediction_type"`
	CreatedAt       time.Time `json:"created_at"`

	SoilMoisture     *float64 `json:"soil_moisture"`
	AirTemperature   *float64 `json:"air_temperature"`
	AirHumidity      *float64 `json:"air_humidity"`
	Location         *string  `json:"location"`
	WeatherTemp      *float64 `json:"weather_temp"`
	WeatherHumidity  *float64 `json:"weather_humidity"`
	WeatherCondition *string  `json:"weather_condition"`
}

func newPredictionView(r models.PredictionRecord) predictionView {
	return predictionView{
		ID:               r.ID,
		UserID:           r.UserID,
		SensorDataID:     nullInt(r.SensorDataID),
		WeatherLogID:     nullInt(r.WeatherLogID),
		ConfidenceScore:  r.ConfidenceScore,
		Recommendation:   r.Recommendation,
		CropType:         nullString(r.CropType),
		ModelVersion:     r.ModelVersion,
		PredictionType:   r.PredictionType,
		CreatedAt:        r.CreatedAt,
		SoilMoisture:     nullFloat(r.SoilMoisture),
		AirTemperature:   nullFloat(r.AirTemperature),
		AirHumidity:      nullFloat(r.AirHumidity),
		Location:         nullString(r.Location),
		WeatherTemp:      nullFloat(r.WeatherTemp),
		WeatherHumidity:  nullFloat(r.WeatherHumidity),
		WeatherCondition: nullString(r.WeatherCondition),
	}
}

type historyResponse struct {
	Count       int              `json:"count"`
	Predictions []predictionView `json:"predictions"`
}

type sensorReadingView struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	SoilMoisture    *float64  `json:"soil_moisture"`
	AirTemperature  *float64  `json:"air_temperature"`
	AirHumidity     *float64  `json:"air_humidity"`
	SoilTemperature *float64  `json:"soil_temperature"`
	SoilPH          *float64  `json:"soil_ph"`
	LightIntensity  *float64  `json:"light_intensity"`
	SensorID        *string   `json:"sensor_id"`
	RecordedAt      time.Time `json:"recorded_at"`
}

func newSensorReadingView(r models.SensorReading) sensorReadingView {
	return sensorReadingView{
		ID:              r.ID,
		UserID:          r.UserID,
		SoilMoisture:    nullFloat(r.SoilMoisture),
		AirTemperature:  nullFloat(r.AirTemperature),
		AirHumidity:     nullFloat(r.AirHumidity),
		SoilTemperature: nullFloat(r.SoilTemperature),
		SoilPH:          nullFloat(r.SoilPH),
		LightIntensity:  nullFloat(r.LightIntensity),
		SensorID:        nullString(r.SensorID),
		RecordedAt:      r.RecordedAt,
	}
}

type sensorDataResponse struct {
	Count    int                 `json:"count"`
	Readings []sensorReadingView `json:"readings"`
}

// weatherLogView leaves out the raw provider payload.
type weatherLogView struct {
	ID                 int64     `json:"id"`
	UserID             int64     `json:"user_id"`
	Location           string    `json:"location"`
	Latitude           *float64  `json:"latitude"`
	Longitude          *float64  `json:"longitude"`
	Temperature        float64   `json:"temperature"`
	FeelsLike          *float64  `json:"feels_like"`
	Humidity           float64   `json:"humidity"`
	Pressure           *float64  `json:"pressure"`
	WindSpeed          *float64  `json:"wind_speed"`
	WeatherCondition   *string   `json:"weather_condition"`
	WeatherDescription *string   `json:"weather_description"`
	FetchedAt          time.Time `json:"fetched_at"`
}

func newWeatherLogView(w models.WeatherLog) weatherLogView {
	return weatherLogView{
		ID:                 w.ID,
		UserID:             w.UserID,
		Location:           w.Location,
		Latitude:           nullFloat(w.Latitude),
		Longitude:          nullFloat(w.Longitude),
		Temperature:        w.Temperature,
		FeelsLike:          nullFloat(w.FeelsLike),
		Humidity:           w.Humidity,
		Pressure:           nullFloat(w.Pressure),
		WindSpeed:          nullFloat(w.WindSpeed),
		WeatherCondition:   nullString(w.WeatherCondition),
		WeatherDescription: nullString(w.WeatherDescription),
		FetchedAt:          w.FetchedAt,
	}
}

type weatherLogsResponse struct {
	Count int              `json:"count"`
	Logs  []weatherLogView `json:"logs"`
}

type fertilizersResponse struct {
	Count       int                 `json:"count"`
	Fertilizers []engine.Fertilizer `json:"fertilizers"`
}

type userView struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        *string   `json:"email"`
	FullName     *string   `json:"full_name"`
	FarmLocation *string   `json:"farm_location"`
	CreatedAt    time.Time `json:"created_at"`
}

func newUserView(u models.User) userView {
	return userView{
		ID:           u.ID,
		Username:     u.Username,
		Email:        nullString(u.Email),
		FullName:     nullString(u.FullName),
		FarmLocation: nullString(u.FarmLocation),
		CreatedAt:    u.CreatedAt,
	}
}

type forecastPointView struct {
	Datetime           time.Time `json:"datetime"`
	TemperatureCelsius float64   `json:"temperature_celsius"`
	HumidityPercent    float64   `json:"humidity_percent"`
	RainExpected       bool      `json:"rain_expected"`
	Condition          string    `json:"condition"`
}

type forecastResponse struct {
	City      string              `json:"city"`
	Days      int                 `json:"days"`
	Forecasts []forecastPointView `json:"forecasts"`
}

type healthResponse struct {
	Status            string   `json:"status"`
	ModelLoaded       bool     `json:"model_loaded"`
	ModelVersion      string   `json:"model_version,omitempty"`
	WeatherConfigured bool     `json:"weather_configured"`
	Database          string   `json:"database"`
	SchemaVersion     *int     `json:"schema_version"`
	Endpoints         []string `json:"endpoints"`
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}
