package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/lox/agriadvisor/internal/engine"
	"github.com/lox/agriadvisor/internal/logging"
	"github.com/lox/agriadvisor/internal/store"
	"github.com/lox/agriadvisor/internal/validate"
)

const maxBodyBytes = 64 << 10

var errNoInput = errors.New("no input data provided")

// decodeBody reads a JSON object. An empty, malformed or non-object body
// is reported as missing input.
func decodeBody(r *http.Request) (map[string]any, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, errNoInput
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil || len(raw) == 0 {
		return nil, errNoInput
	}
	return raw, nil
}

func cityOf(raw map[string]any) string {
	c, _ := raw["city"].(string)
	return strings.TrimSpace(c)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if !s.svc.ModelLoaded() {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "ML model not loaded"})
		return
	}
	raw, err := decodeBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "No input data provided"})
		return
	}

	rec, err := s.svc.Recommend(r.Context(), raw)
	if err != nil {
		writeError(w, r, err, cityOf(raw))
		return
	}

	resp := predictResponse{
		Recommendation: rec.Result.Recommendation,
		Confidence:     rec.Result.Confidence,
		Weather:        newWeatherView(rec.Weather),
		InputSummary:   rec.Result.InputSummary,
	}
	if explain, _ := strconv.ParseBool(r.URL.Query().Get("explain")); explain {
		e := rec.Result.Explanation
		resp.Explanation = &e
		resp.Report = e.Report()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if !s.svc.ModelLoaded() {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "ML model not loaded"})
		return
	}
	raw, err := decodeBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "No input data provided"})
		return
	}

	sub, err := s.svc.Submit(r.Context(), raw)
	if err != nil {
		writeError(w, r, err, cityOf(raw))
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{
		Recommendation: sub.Result.Recommendation,
		Confidence:     sub.Result.Confidence,
		Weather:        newWeatherView(sub.Weather),
		Saved:          sub.Outcome.Saved(),
		PredictionID:   sub.Outcome.PredictionID,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "Datastore not configured"})
		return
	}
	filter, err := validate.History(r.URL.Query(), s.svc.DefaultUserID())
	if err != nil {
		writeError(w, r, err, "")
		return
	}

	records, err := s.store.ListPredictions(r.Context(), filter)
	if err != nil {
		writeError(w, r, err, "")
		return
	}

	views := make([]predictionView, 0, len(records))
	for _, rec := range records {
		views = append(views, newPredictionView(rec))
	}
	logging.Ctx(r.Context()).Debug().Int64("user_id", filter.UserID).Int("count", len(views)).Msg("history fetched")
	writeJSON(w, http.StatusOK, historyResponse{Count: len(views), Predictions: views})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "Datastore not configured"})
		return
	}
	userID, err := validate.UserID(r.URL.Query().Get("user_id"), s.svc.DefaultUserID())
	if err != nil {
		writeError(w, r, err, "")
		return
	}

	rec, err := s.store.LatestPrediction(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "No predictions found"})
		return
	}
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, newPredictionView(rec))
}

func (s *Server) handleSensorData(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "Datastore not configured"})
		return
	}
	filter, err := validate.Range(r.URL.Query(), s.svc.DefaultUserID())
	if err != nil {
		writeError(w, r, err, "")
		return
	}

	readings, err := s.store.ListSensorReadings(r.Context(), filter)
	if err != nil {
		writeError(w, r, err, "")
		return
	}

	views := make([]sensorReadingView, 0, len(readings))
	for _, rd := range readings {
		views = append(views, newSensorReadingView(rd))
	}
	writeJSON(w, http.StatusOK, sensorDataResponse{Count: len(views), Readings: views})
}

func (s *Server) handleWeatherLogs(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "Datastore not configured"})
		return
	}
	filter, err := validate.Range(r.URL.Query(), s.svc.DefaultUserID())
	if err != nil {
		writeError(w, r, err, "")
		return
	}

	logs, err := s.store.ListWeatherLogs(r.Context(), filter)
	if err != nil {
		writeError(w, r, err, "")
		return
	}

	views := make([]weatherLogView, 0, len(logs))
	for _, l := range logs {
		views = append(views, newWeatherLogView(l))
	}
	writeJSON(w, http.StatusOK, weatherLogsResponse{Count: len(views), Logs: views})
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "Datastore not configured"})
		return
	}
	id, err := validate.UserID(chi.URLParam(r, "id"), 0)
	if err != nil {
		writeError(w, r, err, "")
		return
	}

	u, err := s.store.GetUser(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "User not found"})
		return
	}
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, newUserView(u))
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	if s.forecast == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "Forecast not available"})
		return
	}
	city, days, err := validate.Forecast(r.URL.Query())
	if err != nil {
		writeError(w, r, err, "")
		return
	}

	points, err := s.forecast.Forecast(r.Context(), city, days)
	if err != nil {
		writeError(w, r, err, city)
		return
	}

	views := make([]forecastPointView, 0, len(points))
	for _, p := range points {
		views = append(views, forecastPointView{
			Datetime:           p.Time,
			TemperatureCelsius: p.TemperatureCelsius,
			HumidityPercent:    p.HumidityPercent,
			RainExpected:       p.RainExpected,
			Condition:          string(p.Condition),
		})
	}
	writeJSON(w, http.StatusOK, forecastResponse{City: city, Days: days, Forecasts: views})
}

func (s *Server) handleFertilizers(w http.ResponseWriter, r *http.Request) {
	fs := engine.Fertilizers()
	writeJSON(w, http.StatusOK, fertilizersResponse{Count: len(fs), Fertilizers: fs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:       "healthy",
		ModelLoaded:  s.svc.ModelLoaded(),
		ModelVersion: s.svc.ModelVersion(),
		Endpoints:    endpoints,
	}
	resp.Database, resp.SchemaVersion = s.databaseStatus(r.Context())
	if s.forecast != nil {
		resp.WeatherConfigured = s.forecast.Configured()
	}
	if !resp.ModelLoaded {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

// databaseStatus reports connectivity and, once migrations have run, the
// applied schema version.
func (s *Server) databaseStatus(ctx context.Context) (string, *int) {
	if s.store == nil {
		return "not_configured", nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("datastore ping failed")
		return "unavailable", nil
	}
	version, err := s.store.MigrationVersion(ctx)
	if err != nil || version == 0 {
		return "migrating", nil
	}
	return "ok", &version
}
