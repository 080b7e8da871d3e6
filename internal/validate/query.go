package validate

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lox/agriadvisor/internal/models"
)

const (
	maxHistoryLimit     = 1000
	maxForecastDays     = 5
	defaultForecastDays = 3
)

type historyFields struct {
	UserID         int64  `json:"user_id" validate:"gt=0"`
	Limit          int    `json:"limit" validate:"min=1,max=1000"`
	PredictionType string `json:"prediction_type" validate:"omitempty,max=50"`
}

// History validates the /history query string.
func History(q url.Values, defaultUserID int64) (models.HistoryFilter, error) {
	fields := historyFields{
		UserID:         defaultUserID,
		Limit:          models.DefaultHistoryLimit,
		PredictionType: strings.TrimSpace(q.Get("prediction_type")),
	}

	if v := q.Get("user_id"); v != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return models.HistoryFilter{}, &Error{Field: "user_id", Reason: "user_id must be a positive integer"}
		}
		fields.UserID = id
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return models.HistoryFilter{}, &Error{Field: "limit", Reason: "limit must be a positive integer"}
		}
		fields.Limit = limit
	}

	if err := checkStruct(&fields); err != nil {
		return models.HistoryFilter{}, err
	}
	return models.HistoryFilter{
		UserID:         fields.UserID,
		PredictionType: fields.PredictionType,
		Limit:          fields.Limit,
	}, nil
}

type rangeFields struct {
	UserID int64 `json:"user_id" validate:"gt=0"`
	Limit  int   `json:"limit" validate:"min=1,max=1000"`
}

// Range validates the since, until, user_id and limit parameters shared by
// the sensor and weather-log listings. Times are RFC 3339 or a bare
// YYYY-MM-DD date; a bare until date covers the whole day.
func Range(q url.Values, defaultUserID int64) (models.RangeFilter, error) {
	fields := rangeFields{UserID: defaultUserID, Limit: models.DefaultHistoryLimit}
	if v := q.Get("user_id"); v != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return models.RangeFilter{}, &Error{Field: "user_id", Reason: "user_id must be a positive integer"}
		}
		fields.UserID = id
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return models.RangeFilter{}, &Error{Field: "limit", Reason: "limit must be a positive integer"}
		}
		fields.Limit = limit
	}
	if err := checkStruct(&fields); err != nil {
		return models.RangeFilter{}, err
	}

	since, err := parseBound("since", q.Get("since"), false)
	if err != nil {
		return models.RangeFilter{}, err
	}
	until, err := parseBound("until", q.Get("until"), true)
	if err != nil {
		return models.RangeFilter{}, err
	}
	if !since.IsZero() && !until.IsZero() && until.Before(since) {
		return models.RangeFilter{}, &Error{Field: "until", Reason: "until must not be before since"}
	}

	return models.RangeFilter{
		UserID: fields.UserID,
		Since:  since,
		Until:  until,
		Limit:  fields.Limit,
	}, nil
}

func parseBound(field, raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, &Error{Field: field, Reason: field + " must be an RFC 3339 time or YYYY-MM-DD date"}
	}
	if endOfDay {
		d = d.Add(24*time.Hour - time.Nanosecond)
	}
	return d, nil
}

// UserID parses a single positive user identifier.
func UserID(raw string, defaultUserID int64) (int64, error) {
	if strings.TrimSpace(raw) == "" {
		return defaultUserID, nil
	}
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, &Error{Field: "user_id", Reason: "user_id must be a positive integer"}
	}
	return id, nil
}

type forecastFields struct {
	City string `json:"city" validate:"required,max=100"`
	Days int    `json:"days" validate:"min=1,max=5"`
}

// Forecast validates the /forecast query string and returns city and days.
func Forecast(q url.Values) (string, int, error) {
	fields := forecastFields{
		City: strings.TrimSpace(q.Get("city")),
		Days: defaultForecastDays,
	}
	if v := q.Get("days"); v != "" {
		days, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return "", 0, &Error{Field: "days", Reason: "days must be an integer"}
		}
		fields.Days = days
	}
	if err := checkStruct(&fields); err != nil {
		return "", 0, err
	}
	return fields.City, fields.Days, nil
}
