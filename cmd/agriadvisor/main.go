package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/cenkalti/backoff/v4"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	"golang.org/x/sync/errgroup"

	"github.com/lox/agriadvisor/internal/advisor"
	"github.com/lox/agriadvisor/internal/api"
	"github.com/lox/agriadvisor/internal/engine"
	"github.com/lox/agriadvisor/internal/logging"
	"github.com/lox/agriadvisor/internal/persist"
	"github.com/lox/agriadvisor/internal/store"
	"github.com/lox/agriadvisor/internal/weather"
)

type CLI struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name='env-file',default='.env',help='Path to a .env file loaded before flags are resolved.'"`

	Port     string        `default:"5000" env:"PORT" help:"HTTP listen port."`
	DB       string        `default:"data/agriadvisor.db" env:"DATABASE_URL" help:"SQLite path or postgres:// URL."`
	DBWait   time.Duration `default:"30s" env:"DB_WAIT" help:"Longest pause between datastore bootstrap retries."`
	ModelDir string        `default:"model" env:"MODEL_DIR" type:"path" help:"Directory holding the classifier artifacts."`

	WeatherAPIKey  string        `env:"OPENWEATHER_API_KEY" help:"OpenWeather API key."`
	WeatherBaseURL string        `default:"https://api.openweathermap.org/data/2.5" env:"OPENWEATHER_BASE_URL" help:"OpenWeather API base URL."`
	WeatherTimeout time.Duration `default:"10s" env:"WEATHER_TIMEOUT" help:"Per-call weather provider timeout."`

	LogLevel  string `default:"info" env:"LOG_LEVEL" enum:"trace,debug,info,warn,error" help:"Log level."`
	LogFormat string `default:"json" env:"LOG_FORMAT" enum:"json,console" help:"Log output format."`

	CORSOrigins   []string `env:"CORS_ORIGINS" help:"Allowed CORS origins (defaults to the local dev front-ends)."`
	RateLimit     int      `default:"0" env:"RATE_LIMIT" help:"POST requests per minute per client IP; 0 disables."`
	DefaultUserID int64    `default:"1" env:"DEFAULT_USER_ID" help:"User assumed when a request omits user_id."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("agriadvisor"),
		kong.Description("Fertilizer recommendation API."),
		kong.UsageOnError(),
	)

	logging.Init(logging.Config{Level: cli.LogLevel, Format: cli.LogFormat})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kctx.FatalIfErrorf(run(ctx, cli))
}

func run(ctx context.Context, cli CLI) error {
	st, err := openStore(cli)
	if err != nil {
		return err
	}
	defer st.Close()

	eng, err := engine.Load(cli.ModelDir)
	if err != nil {
		logging.Error().Err(err).Str("model_dir", cli.ModelDir).Msg("model not loaded; serving in degraded mode")
	} else {
		meta := eng.Metadata()
		logging.Info().
			Str("model_version", eng.Version()).
			Strs("classes", eng.Classes()).
			Float64("accuracy", meta.Metrics.Accuracy).
			Msg("model loaded")
	}

	wc := weather.NewClient(weather.Config{
		APIKey:  cli.WeatherAPIKey,
		BaseURL: cli.WeatherBaseURL,
		Timeout: cli.WeatherTimeout,
	})
	if !wc.Configured() {
		logging.Warn().Msg("OPENWEATHER_API_KEY not set; weather lookups will fail")
	}

	svc := advisor.New(wc, eng, persist.New(st), cli.DefaultUserID)
	server := api.NewServer(svc, st, wc, api.Config{
		Port:        cli.Port,
		CORSOrigins: cli.CORSOrigins,
		RateLimit:   cli.RateLimit,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bootstrapStore(gctx, st, cli)
	})
	g.Go(func() error {
		return server.Run(gctx)
	})
	return g.Wait()
}

// openStore opens the datastore without contacting it. An unreachable store
// is not fatal: bootstrapStore keeps retrying in the background while the
// service answers /predict and reports saved=false on /submit-data.
func openStore(cli CLI) (*store.Store, error) {
	if store.DialectFor(cli.DB) == store.DialectSQLite && cli.DB != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cli.DB), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return store.Open(cli.DB)
}

// bootstrapStore migrates the schema and seeds the default user, retrying
// until it succeeds or the service shuts down.
func bootstrapStore(ctx context.Context, st *store.Store, cli CLI) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = cli.DBWait
	bo.MaxElapsedTime = 0
	notify := func(err error, wait time.Duration) {
		logging.Warn().Err(err).Dur("retry_in", wait).Str("dialect", st.Dialect().String()).Msg("datastore not ready; predictions will not be saved")
	}

	err := st.BootstrapWithRetry(ctx, store.DefaultUser(cli.DefaultUserID), bo, notify)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		logging.Error().Err(err).Int64("default_user_id", cli.DefaultUserID).Msg("datastore bootstrap gave up")
		return nil
	}
	logging.Info().Str("dialect", st.Dialect().String()).Int64("default_user_id", cli.DefaultUserID).Msg("datastore ready")
	return nil
}
