package db

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"gorm.io/gorm/logger"

	"dronewatch.eu/core/internal/config"
)

func TestResolveGormLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level       string
		environment string
		want        logger.LogLevel
	}{
		{level: "debug", want: logger.Info},
		{level: "trace", want: logger.Info},
		{level: "", want: logger.Warn},
		{level: "INFO", want: logger.Warn},
		{level: "error", want: logger.Error},
		{level: "silent", want: logger.Silent},
		{level: "loud", environment: "local", want: logger.Warn},
		{level: "loud", environment: "production", want: logger.Error},
	}
	for _, tc := range tests {
		if got := resolveGormLogLevel(tc.level, tc.environment); got != tc.want {
			t.Fatalf("resolveGormLogLevel(%q, %q) = %v, want %v", tc.level, tc.environment, got, tc.want)
		}
	}
}

func TestNewPoolRejectsMissingConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewPool(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
	_, err := NewPool(context.Background(), &config.Config{})
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error, got %v", err)
	}
}

func TestMigrationStepsOrder(t *testing.T) {
	t.Parallel()

	steps := migrationSteps()
	names := make([]string, 0, len(steps))
	for _, step := range steps {
		names = append(names, step.name)
	}
	if got := strings.Join(names, ","); got != "pre-auto-migrate,auto-migrate,post-auto-migrate" {
		t.Fatalf("unexpected migration order %s", got)
	}
	if !strings.Contains(postAutoMigrateSQL, "incident_embeddings") {
		t.Fatalf("post migration must create incident_embeddings")
	}
}

func TestUnmigratedPoolFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var pool *Pool
	if err := pool.Migrate(ctx, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for nil pool")
	}
	if err := pool.WithTx(ctx, func(querier) error { return nil }); err == nil {
		t.Fatalf("expected error for nil pool")
	}
	if err := pool.Ping(ctx); err == nil {
		t.Fatalf("expected ping error for nil pool")
	}
	if err := pool.Close(); err != nil {
		t.Fatalf("closing a nil pool: %v", err)
	}

	var unopened conn
	if !IsNoRows(unopened.QueryRow(ctx, "SELECT 1").Scan()) {
		t.Fatalf("expected no rows from an unopened connection")
	}
	if _, err := unopened.Exec(ctx, "SELECT 1"); err == nil {
		t.Fatalf("expected exec error from an unopened connection")
	}
	if _, err := unopened.Query(ctx, "SELECT 1"); err == nil {
		t.Fatalf("expected query error from an unopened connection")
	}
}

func TestLockForUpdateLocksOnlyTheIncidentRow(t *testing.T) {
	t.Parallel()

	query := `
SELECT i.title
FROM dronewatch.incidents i
LEFT JOIN dronewatch.incident_embeddings e ON e.incident_uuid = i.incident_uuid
WHERE i.incident_uuid = $1::uuid
`
	got := lockForUpdate(query, "i")
	if !strings.HasSuffix(got, "WHERE i.incident_uuid = $1::uuid\nFOR UPDATE OF i\n") {
		t.Fatalf("unexpected locking query %q", got)
	}
	if strings.Count(got, "FOR UPDATE") != 1 {
		t.Fatalf("lock clause must appear once: %q", got)
	}
}
