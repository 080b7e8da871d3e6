package models

import (
	"database/sql"
	"time"
)

// Condition is the coarse weather signal the classifier was trained on.
type Condition string

const (
	ConditionRain  Condition = "Rain"
	ConditionClear Condition = "Clear"
)

// WeatherCode is the categorical weather feature consumed by the classifier.
type WeatherCode int

const (
	WeatherDryHot WeatherCode = iota
	WeatherDryCool
	WeatherHumidHot
	WeatherHumidCool
	WeatherNormal
)

var weatherCodeNames = [...]string{"dry_hot", "dry_cool", "humid_hot", "humid_cool", "normal"}

func (c WeatherCode) Valid() bool {
	return c >= WeatherDryHot && c <= WeatherNormal
}

func (c WeatherCode) String() string {
	if !c.Valid() {
		return "unknown"
	}
	return weatherCodeNames[c]
}

const (
	PredictionTypeFertilizer = "fertilizer"
	DefaultModelVersion      = "1.0"
)

// PredictionInput is the validated caller input for a single request.
type PredictionInput struct {
	Nitrogen   float64
	Phosphorus float64
	Potassium  float64
	LeafColor  int
	City       string
	UserID     int64
}

// WeatherSnapshot is the normalised result of one live provider call.
type WeatherSnapshot struct {
	City               string
	Condition          Condition
	TemperatureCelsius float64
	HumidityPercent    float64
	RainExpected       bool
	Timestamp          time.Time
	Details            WeatherDetails
}

// WeatherDetails carries provider fields that are persisted but never
// surfaced in the recommendation response.
type WeatherDetails struct {
	Country       string
	ConditionCode int
	Description   string
	Latitude      sql.NullFloat64
	Longitude     sql.NullFloat64
	FeelsLike     sql.NullFloat64
	Pressure      sql.NullFloat64
	WindSpeed     sql.NullFloat64
	RawJSON       string
}

type ForecastPoint struct {
	Time               time.Time
	TemperatureCelsius float64
	HumidityPercent    float64
	Condition          Condition
	RainExpected       bool
}

type SensorReading struct {
	ID              int64
	UserID          int64
	SoilMoisture    sql.NullFloat64
	AirTemperature  sql.NullFloat64
	AirHumidity     sql.NullFloat64
	SoilTemperature sql.NullFloat64
	SoilPH          sql.NullFloat64
	LightIntensity  sql.NullFloat64
	SensorID        sql.NullString
	RecordedAt      time.Time
}

type WeatherLog struct {
	ID                 int64
	UserID             int64
	Location           string
	Latitude           sql.NullFloat64
	Longitude          sql.NullFloat64
	Temperature        float64
	FeelsLike          sql.NullFloat64
	Humidity           float64
	Pressure           sql.NullFloat64
	WindSpeed          sql.NullFloat64
	WeatherCondition   sql.NullString
	WeatherDescription sql.NullString
	APIResponse        sql.NullString
	FetchedAt          time.Time
}

type Prediction struct {
	ID              int64
	UserID          int64
	SensorDataID    sql.NullInt64
	WeatherLogID    sql.NullInt64
	ConfidenceScore float64
	Recommendation  string
	CropType        sql.NullString
	ModelVersion    string
	PredictionType  string
	CreatedAt       time.Time
}

// PredictionRecord is a prediction left-joined with its sensor and weather
// siblings. Sibling columns are null when the reference points nowhere.
type PredictionRecord struct {
	Prediction
	SoilMoisture     sql.NullFloat64
	AirTemperature   sql.NullFloat64
	AirHumidity      sql.NullFloat64
	Location         sql.NullString
	WeatherTemp      sql.NullFloat64
	WeatherHumidity  sql.NullFloat64
	WeatherCondition sql.NullString
}

type User struct {
	ID           int64
	Username     string
	Email        sql.NullString
	FullName     sql.NullString
	FarmLocation sql.NullString
	CreatedAt    time.Time
}

// HistoryFilter selects prediction records for one user. An empty
// PredictionType means no restriction.
type HistoryFilter struct {
	UserID         int64
	PredictionType string
	Limit          int
}

// RangeFilter selects a user's sensor readings or weather logs by time
// window. Zero times leave that side of the window open; a zero Limit means
// DefaultHistoryLimit.
type RangeFilter struct {
	UserID int64
	Since  time.Time
	Until  time.Time
	Limit  int
}

const DefaultHistoryLimit = 50
