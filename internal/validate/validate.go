// Package validate checks caller-supplied request fields before they reach
// the weather provider or the classifier. Every function here is pure.
package validate

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/lox/agriadvisor/internal/models"
)

// Error is a validation failure naming the offending field.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return e.Reason
}

// IsValidation reports whether err is (or wraps) a validation failure.
func IsValidation(err error) bool {
	var ve *Error
	return errors.As(err, &ve)
}

const maxCityLength = 100

var requiredFields = []string{"nitrogen", "phosphorus", "potassium", "leaf_color", "city"}

type predictionFields struct {
	Nitrogen   float64 `json:"nitrogen" validate:"gte=0"`
	Phosphorus float64 `json:"phosphorus" validate:"gte=0"`
	Potassium  float64 `json:"potassium" validate:"gte=0"`
	LeafColor  int     `json:"leaf_color" validate:"gte=0,lte=5"`
	City       string  `json:"city" validate:"required,max=100"`
	UserID     int64   `json:"user_id" validate:"gt=0"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// PredictionInput validates a decoded request body and returns the coerced
// input. A missing or null user_id takes defaultUserID, a stand-in for real
// caller identity.
func PredictionInput(raw map[string]any, defaultUserID int64) (models.PredictionInput, error) {
	return predictionInput(raw, defaultUserID, true)
}

// ReadingInput is PredictionInput for callers that never attribute the
// reading to a user. Any user_id in raw is ignored and the result carries
// defaultUserID.
func ReadingInput(raw map[string]any, defaultUserID int64) (models.PredictionInput, error) {
	return predictionInput(raw, defaultUserID, false)
}

func predictionInput(raw map[string]any, defaultUserID int64, withUser bool) (models.PredictionInput, error) {
	var in models.PredictionInput
	if len(raw) == 0 {
		return in, &Error{Reason: "No input data provided"}
	}

	for _, field := range requiredFields {
		if _, ok := raw[field]; !ok {
			return in, &Error{Field: field, Reason: "Missing required field: " + field}
		}
	}

	var fields predictionFields
	var err error
	if fields.Nitrogen, err = toFloat("nitrogen", raw["nitrogen"]); err != nil {
		return in, err
	}
	if fields.Phosphorus, err = toFloat("phosphorus", raw["phosphorus"]); err != nil {
		return in, err
	}
	if fields.Potassium, err = toFloat("potassium", raw["potassium"]); err != nil {
		return in, err
	}
	if fields.LeafColor, err = toInt("leaf_color", raw["leaf_color"]); err != nil {
		return in, err
	}

	city, ok := raw["city"].(string)
	if !ok {
		return in, &Error{Field: "city", Reason: "city must be a non-empty string"}
	}
	fields.City = strings.TrimSpace(city)

	fields.UserID = defaultUserID
	if v, ok := raw["user_id"]; withUser && ok && v != nil {
		if fields.UserID, err = toUserID(v); err != nil {
			return in, err
		}
	}

	if err := checkStruct(&fields); err != nil {
		return in, err
	}

	return models.PredictionInput{
		Nitrogen:   fields.Nitrogen,
		Phosphorus: fields.Phosphorus,
		Potassium:  fields.Potassium,
		LeafColor:  fields.LeafColor,
		City:       fields.City,
		UserID:     fields.UserID,
	}, nil
}

// checkStruct runs the tag rules and reports the first failing field in
// declaration order.
func checkStruct(s any) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &Error{Reason: "validation failed"}
	}
	fe := fieldErrs[0]
	return &Error{Field: fe.Field(), Reason: message(fe)}
}

func message(fe validator.FieldError) string {
	field := fe.Field()
	switch field {
	case "nitrogen", "phosphorus", "potassium":
		return "Nutrient values cannot be negative: " + field
	case "leaf_color":
		return "leaf_color must be between 0 and 5"
	case "city":
		if fe.Tag() == "max" {
			return fmt.Sprintf("city must be at most %d characters", maxCityLength)
		}
		return "city must be a non-empty string"
	case "user_id":
		return "user_id must be a positive integer"
	case "limit":
		return fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit)
	case "days":
		return fmt.Sprintf("days must be between 1 and %d", maxForecastDays)
	case "prediction_type":
		return "prediction_type is too long"
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}

func toFloat(field string, v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, typeError(field, "a number")
		}
		f = parsed
	default:
		return 0, typeError(field, "a number")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, typeError(field, "a finite number")
	}
	return f, nil
}

// toInt truncates numeric input toward zero; strings must hold an integer.
func toInt(field string, v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return clampInt(float64(n)), nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, typeError(field, "an integer")
		}
		return clampInt(math.Trunc(n)), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, typeError(field, "an integer")
		}
		return i, nil
	default:
		return 0, typeError(field, "an integer")
	}
}

// toUserID accepts whole numbers that fit in int64. Fractions and
// out-of-range magnitudes are rejected rather than truncated.
func toUserID(v any) (int64, error) {
	bad := &Error{Field: "user_id", Reason: "user_id must be a positive integer"}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		// 2^63 is exactly representable; anything at or above it overflows.
		if math.IsNaN(n) || n != math.Trunc(n) || n < math.MinInt64 || n >= 1<<63 {
			return 0, bad
		}
		return int64(n), nil
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, bad
		}
		return id, nil
	}
	return 0, bad
}

// clampInt keeps absurd magnitudes inside int32 so range checks, not
// conversion overflow, reject them.
func clampInt(f float64) int {
	switch {
	case f > math.MaxInt32:
		return math.MaxInt32
	case f < math.MinInt32:
		return math.MinInt32
	}
	return int(f)
}

func typeError(field, want string) error {
	return &Error{Field: field, Reason: fmt.Sprintf("Invalid data type: %s must be %s", field, want)}
}
