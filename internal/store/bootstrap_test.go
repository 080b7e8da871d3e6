package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/agriadvisor/internal/models"
)

func TestBootstrapWithRetryRecovers(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not-yet")
	s, err := Open(filepath.Join(dir, "agri.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	if _, err := s.InsertSensorReading(ctx, models.SensorReading{UserID: 1}); err == nil {
		t.Fatal("insert succeeded before the datastore was reachable")
	}

	failures := 0
	notify := func(err error, _ time.Duration) {
		failures++
		if failures == 2 {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				t.Errorf("mkdir: %v", err)
			}
		}
	}
	err = s.BootstrapWithRetry(ctx, DefaultUser(1), backoff.NewConstantBackOff(time.Millisecond), notify)
	if err != nil {
		t.Fatalf("BootstrapWithRetry: %v", err)
	}
	if failures < 2 {
		t.Errorf("failures = %d, want at least 2", failures)
	}
	if v, err := s.MigrationVersion(ctx); err != nil || v != len(migrations) {
		t.Errorf("MigrationVersion = %d, %v, want %d", v, err, len(migrations))
	}

	if _, err := s.InsertSensorReading(ctx, models.SensorReading{UserID: 1}); err != nil {
		t.Errorf("insert after recovery: %v", err)
	}
	if u, err := s.GetUser(ctx, 1); err != nil || u.Username != "default-1" {
		t.Errorf("GetUser = %+v, %v", u, err)
	}
}

func TestBootstrapWithRetryStopsOnCancel(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "never", "agri.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	notify := func(error, time.Duration) {
		attempts++
		if attempts == 3 {
			cancel()
		}
	}
	err = s.BootstrapWithRetry(ctx, DefaultUser(1), backoff.NewConstantBackOff(time.Millisecond), notify)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if _, err := s.MigrationVersion(context.Background()); err == nil {
		t.Error("schema present after a cancelled bootstrap")
	}
}

func TestBootstrapWithRetryUsernameClash(t *testing.T) {
	s := setupTestStore(t)
	retries := 0
	notify := func(error, time.Duration) { retries++ }

	err := s.BootstrapWithRetry(context.Background(), models.User{ID: 9, Username: "default"}, backoff.NewConstantBackOff(time.Millisecond), notify)
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("err = %v, want ErrUsernameTaken", err)
	}
	if retries != 0 {
		t.Errorf("retried %d times, want none", retries)
	}
}
