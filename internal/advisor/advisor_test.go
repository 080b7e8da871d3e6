package advisor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/lox/agriadvisor/internal/engine"
	"github.com/lox/agriadvisor/internal/models"
	"github.com/lox/agriadvisor/internal/persist"
	"github.com/lox/agriadvisor/internal/validate"
	"github.com/lox/agriadvisor/internal/weather"
)

type fakeWeather struct {
	snap  models.WeatherSnapshot
	err   error
	calls int
}

func (f *fakeWeather) Current(_ context.Context, city string) (models.WeatherSnapshot, error) {
	f.calls++
	if f.err != nil {
		return models.WeatherSnapshot{}, f.err
	}
	s := f.snap
	s.City = city
	return s, nil
}

type fakePersister struct {
	out    persist.Outcome
	userID int64
	city   string
	calls  int
}

func (f *fakePersister) Persist(_ context.Context, userID int64, _ models.WeatherSnapshot, _ engine.Result, city string) persist.Outcome {
	f.calls++
	f.userID, f.city = userID, city
	return f.out
}

func loadEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.Load(filepath.Join("..", "engine", "testdata", "model"))
	if err != nil {
		t.Fatalf("load engine: %v", err)
	}
	return e
}

func clearHot() *fakeWeather {
	return &fakeWeather{snap: models.WeatherSnapshot{Condition: models.ConditionClear, TemperatureCelsius: 30, HumidityPercent: 55}}
}

func velloreBody() map[string]any {
	return map[string]any{"nitrogen": 45.0, "phosphorus": 18.0, "potassium": 65.0, "leaf_color": 1.0, "city": "Vellore"}
}

func TestRecommend(t *testing.T) {
	svc := New(clearHot(), loadEngine(t), nil, 1)

	rec, err := svc.Recommend(context.Background(), velloreBody())
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if rec.WeatherCode != models.WeatherDryHot {
		t.Errorf("WeatherCode = %d, want 0", rec.WeatherCode)
	}
	if rec.Result.Recommendation != "urea" || rec.Result.Confidence != 0.4417 {
		t.Errorf("result = %s/%v, want urea/0.4417", rec.Result.Recommendation, rec.Result.Confidence)
	}
	if rec.Input.UserID != 1 {
		t.Errorf("UserID = %d, want 1", rec.Input.UserID)
	}
}

func TestRecommendModelNotLoaded(t *testing.T) {
	w := clearHot()
	svc := New(w, nil, nil, 1)
	if svc.ModelLoaded() {
		t.Error("ModelLoaded = true with nil engine")
	}
	if _, err := svc.Recommend(context.Background(), velloreBody()); !errors.Is(err, ErrModelNotLoaded) {
		t.Errorf("err = %v, want ErrModelNotLoaded", err)
	}
	if w.calls != 0 {
		t.Errorf("weather fetched %d times in degraded mode", w.calls)
	}
}

func TestRecommendValidationStopsBeforeWeather(t *testing.T) {
	w := clearHot()
	svc := New(w, loadEngine(t), nil, 1)
	body := velloreBody()
	body["nitrogen"] = -3.0

	_, err := svc.Recommend(context.Background(), body)
	if !validate.IsValidation(err) {
		t.Errorf("err = %v, want validation error", err)
	}
	if w.calls != 0 {
		t.Errorf("weather fetched %d times for invalid input", w.calls)
	}
}

func TestRecommendWeatherErrorPropagates(t *testing.T) {
	w := &fakeWeather{err: weather.ErrTimeout}
	svc := New(w, loadEngine(t), nil, 1)
	if _, err := svc.Recommend(context.Background(), velloreBody()); !errors.Is(err, weather.ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestRecommendIgnoresCancellation(t *testing.T) {
	svc := New(clearHot(), loadEngine(t), nil, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Recommend(ctx, velloreBody()); err != nil {
		t.Errorf("Recommend with cancelled ctx: %v", err)
	}
}

func TestSubmit(t *testing.T) {
	id := int64(7)
	p := &fakePersister{out: persist.Outcome{SensorID: &id, WeatherLogID: &id, PredictionID: &id}}
	svc := New(clearHot(), loadEngine(t), p, 1)

	body := velloreBody()
	body["user_id"] = 3.0
	sub, err := svc.Submit(context.Background(), body)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !sub.Outcome.Saved() || *sub.Outcome.PredictionID != 7 {
		t.Errorf("outcome = %+v", sub.Outcome)
	}
	if p.userID != 3 || p.city != "Vellore" {
		t.Errorf("persisted user/city = %d/%s", p.userID, p.city)
	}
}

func TestSubmitPersistenceFailureStillAnswers(t *testing.T) {
	p := &fakePersister{out: persist.Outcome{FailedAt: persist.StepSensor, Err: errors.New("connection refused")}}
	svc := New(clearHot(), loadEngine(t), p, 1)

	sub, err := svc.Submit(context.Background(), velloreBody())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.Outcome.Saved() || sub.Outcome.PredictionID != nil {
		t.Errorf("outcome = %+v, want unsaved", sub.Outcome)
	}

	rec, err := svc.Recommend(context.Background(), velloreBody())
	if err != nil {
		t.Fatal(err)
	}
	if sub.Result.Recommendation != rec.Result.Recommendation || sub.Result.Confidence != rec.Result.Confidence {
		t.Errorf("submit answer %s/%v differs from predict %s/%v",
			sub.Result.Recommendation, sub.Result.Confidence, rec.Result.Recommendation, rec.Result.Confidence)
	}
}

func TestSubmitWithoutStore(t *testing.T) {
	svc := New(clearHot(), loadEngine(t), nil, 1)
	sub, err := svc.Submit(context.Background(), velloreBody())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.Outcome.Saved() {
		t.Error("expected unsaved outcome without a store")
	}
}
