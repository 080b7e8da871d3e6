// Package weather fetches live conditions from OpenWeather and reduces them
// to the Rain/Clear signal and categorical code the classifier consumes.
package weather

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/lox/agriadvisor/internal/httputil"
	"github.com/lox/agriadvisor/internal/logging"
	"github.com/lox/agriadvisor/internal/metrics"
	"github.com/lox/agriadvisor/internal/models"
)

const (
	DefaultBaseURL = "https://api.openweathermap.org/data/2.5"

	maxCityLength   = 100
	maxForecastDays = 5
	slotsPerDay     = 8
	maxBodyBytes    = 1 << 20
)

var (
	ErrConfiguration = errors.New("weather provider not configured")
	ErrInvalidCity   = errors.New("invalid city")
	ErrCityNotFound  = errors.New("city not found")
	ErrUnavailable   = errors.New("weather provider unavailable")
	ErrInvalidDays   = errors.New("invalid forecast days")
	ErrTimeout       = errors.New("weather provider timed out")
	ErrBadResponse   = errors.New("malformed weather provider response")
)

type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client calls the OpenWeather current and forecast endpoints. It is safe
// for concurrent use.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	now        func() time.Time
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	metrics.WeatherBreakerState.Set(0)
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "openweather",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Caller mistakes are answers, not outages.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrCityNotFound) ||
				errors.Is(err, ErrConfiguration) ||
				errors.Is(err, ErrBadResponse)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("weather circuit breaker state change")
			metrics.WeatherBreakerState.Set(breakerStateValue(to))
		},
	})

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httputil.NewClient(cfg.Timeout),
		breaker:    breaker,
		now:        time.Now,
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

type currentResponse struct {
	Name  string `json:"name"`
	Coord *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coord"`
	Weather []struct {
		ID          int    `json:"id"`
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Main *struct {
		Temp      *float64 `json:"temp"`
		FeelsLike *float64 `json:"feels_like"`
		Humidity  *float64 `json:"humidity"`
		Pressure  *float64 `json:"pressure"`
	} `json:"main"`
	Wind *struct {
		Speed *float64 `json:"speed"`
	} `json:"wind"`
	Sys *struct {
		Country string `json:"country"`
	} `json:"sys"`
}

// Current fetches the live conditions for city. Every call hits the
// provider; nothing is cached.
func (c *Client) Current(ctx context.Context, city string) (models.WeatherSnapshot, error) {
	city, err := c.prepare(city)
	if err != nil {
		return models.WeatherSnapshot{}, err
	}

	params := url.Values{}
	params.Set("q", city)
	body, err := c.fetch(ctx, "current", "/weather", params, city)
	if err != nil {
		return models.WeatherSnapshot{}, err
	}

	var data currentResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return models.WeatherSnapshot{}, fmt.Errorf("%w: decode current: %v", ErrBadResponse, err)
	}
	if data.Main == nil || data.Main.Temp == nil || data.Main.Humidity == nil {
		return models.WeatherSnapshot{}, fmt.Errorf("%w: missing temperature or humidity", ErrBadResponse)
	}

	snap := models.WeatherSnapshot{
		City:               city,
		TemperatureCelsius: *data.Main.Temp,
		HumidityPercent:    *data.Main.Humidity,
		Timestamp:          c.now().UTC(),
		Details: models.WeatherDetails{
			RawJSON: string(body),
		},
	}
	if data.Name != "" {
		snap.City = data.Name
	}

	var group string
	if len(data.Weather) > 0 {
		snap.Details.ConditionCode = data.Weather[0].ID
		snap.Details.Description = data.Weather[0].Description
		group = data.Weather[0].Main
	}
	snap.Condition = Classify(snap.Details.ConditionCode, group)
	snap.RainExpected = snap.Condition == models.ConditionRain

	if data.Sys != nil {
		snap.Details.Country = data.Sys.Country
	}
	if data.Coord != nil {
		snap.Details.Latitude = nullFloat(&data.Coord.Lat)
		snap.Details.Longitude = nullFloat(&data.Coord.Lon)
	}
	snap.Details.FeelsLike = nullFloat(data.Main.FeelsLike)
	snap.Details.Pressure = nullFloat(data.Main.Pressure)
	if data.Wind != nil {
		snap.Details.WindSpeed = nullFloat(data.Wind.Speed)
	}

	return snap, nil
}

type forecastResponse struct {
	List []struct {
		Dt      int64  `json:"dt"`
		DtTxt   string `json:"dt_txt"`
		Weather []struct {
			ID   int    `json:"id"`
			Main string `json:"main"`
		} `json:"weather"`
		Main *struct {
			Temp     *float64 `json:"temp"`
			Humidity *float64 `json:"humidity"`
		} `json:"main"`
	} `json:"list"`
}

// Forecast fetches up to days of 3-hourly forecast points for city.
func (c *Client) Forecast(ctx context.Context, city string, days int) ([]models.ForecastPoint, error) {
	city, err := c.prepare(city)
	if err != nil {
		return nil, err
	}
	if days < 1 || days > maxForecastDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d", ErrInvalidDays, maxForecastDays)
	}

	params := url.Values{}
	params.Set("q", city)
	params.Set("cnt", fmt.Sprint(days*slotsPerDay))
	body, err := c.fetch(ctx, "forecast", "/forecast", params, city)
	if err != nil {
		return nil, err
	}

	var data forecastResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("%w: decode forecast: %v", ErrBadResponse, err)
	}

	points := make([]models.ForecastPoint, 0, len(data.List))
	for _, item := range data.List {
		if item.Main == nil || item.Main.Temp == nil || item.Main.Humidity == nil {
			continue
		}
		p := models.ForecastPoint{
			Time:               forecastTime(item.Dt, item.DtTxt),
			TemperatureCelsius: *item.Main.Temp,
			HumidityPercent:    *item.Main.Humidity,
		}
		var code int
		var group string
		if len(item.Weather) > 0 {
			code, group = item.Weather[0].ID, item.Weather[0].Main
		}
		p.Condition = Classify(code, group)
		p.RainExpected = p.Condition == models.ConditionRain
		points = append(points, p)
	}
	return points, nil
}

func (c *Client) prepare(city string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: OPENWEATHER_API_KEY is not set", ErrConfiguration)
	}
	city = strings.TrimSpace(city)
	if city == "" {
		return "", fmt.Errorf("%w: city name cannot be empty", ErrInvalidCity)
	}
	if len(city) > maxCityLength {
		return "", fmt.Errorf("%w: city name is too long", ErrInvalidCity)
	}
	if strings.IndexFunc(city, unicode.IsControl) >= 0 {
		return "", fmt.Errorf("%w: city name contains control characters", ErrInvalidCity)
	}
	return city, nil
}

// fetch performs one GET through the circuit breaker and returns the body of
// a 200 response.
func (c *Client) fetch(ctx context.Context, endpoint, path string, params url.Values, city string) ([]byte, error) {
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")
	reqURL := c.baseURL + path + "?" + params.Encode()

	start := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, reqURL, city)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	metrics.WeatherAPILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	metrics.WeatherAPICallsTotal.WithLabelValues(endpoint, statusLabel(err)).Inc()

	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("endpoint", endpoint).Str("city", city).Msg("weather fetch failed")
		return nil, err
	}
	logging.Ctx(ctx).Debug().Str("endpoint", endpoint).Str("city", city).Dur("took", time.Since(start)).Msg("weather fetched")
	return body, nil
}

func (c *Client) do(ctx context.Context, reqURL, city string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrConfiguration, err)
	}
	req.Header.Set("User-Agent", "AgriAdvisor/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: invalid API key", ErrConfiguration)
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %q", ErrCityNotFound, city)
	default:
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyTransportError(err)
	}
	return body, nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func statusLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCityNotFound):
		return "not_found"
	case errors.Is(err, ErrConfiguration):
		return "unauthorized"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrBadResponse):
		return "bad_response"
	default:
		return "error"
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func forecastTime(dt int64, dtTxt string) time.Time {
	if dt > 0 {
		return time.Unix(dt, 0).UTC()
	}
	t, err := time.Parse("2006-01-02 15:04:05", dtTxt)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
