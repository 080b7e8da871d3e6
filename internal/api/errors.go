package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/lox/agriadvisor/internal/advisor"
	"github.com/lox/agriadvisor/internal/engine"
	"github.com/lox/agriadvisor/internal/logging"
	"github.com/lox/agriadvisor/internal/store"
	"github.com/lox/agriadvisor/internal/validate"
	"github.com/lox/agriadvisor/internal/weather"
)

const msgInternal = "Internal server error"

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps err to a status code and a client-safe message. city is
// echoed back for not-found weather lookups. Anything unrecognised is
// logged in full and reduced to a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error, city string) {
	status, msg := classify(err, city)
	log := logging.Ctx(r.Context())
	switch {
	case status >= http.StatusInternalServerError:
		log.Error().Err(err).Int("status", status).Msg("request failed")
	default:
		log.Warn().Err(err).Int("status", status).Msg("request rejected")
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func classify(err error, city string) (int, string) {
	var verr *validate.Error
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Reason
	case errors.Is(err, advisor.ErrModelNotLoaded):
		return http.StatusInternalServerError, "ML model not loaded"
	case errors.Is(err, weather.ErrCityNotFound):
		return http.StatusBadRequest, fmt.Sprintf("City not found: '%s'. Please check the spelling.", city)
	case errors.Is(err, weather.ErrInvalidCity):
		return http.StatusBadRequest, "Invalid city name"
	case errors.Is(err, weather.ErrInvalidDays):
		return http.StatusBadRequest, "days must be between 1 and 5"
	case errors.Is(err, engine.ErrInvalidInput):
		return http.StatusBadRequest, inputMessage(err)
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "Not found"
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

// inputMessage drops the wrapping prefixes from an engine input error.
func inputMessage(err error) string {
	msg := err.Error()
	prefix := engine.ErrInvalidInput.Error() + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		return msg[i+len(prefix):]
	}
	return msg
}
