package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

//go:embed sql/pre_automigrate.sql
var preAutoMigrateSQL string

//go:embed sql/post_automigrate.sql
var postAutoMigrateSQL string

type migrationStep struct {
	name string
	run  func(ctx context.Context, p *Pool) error
}

func migrationSteps() []migrationStep {
	return []migrationStep{
		{name: "pre-auto-migrate", run: sqlStep("pre-auto-migrate", preAutoMigrateSQL)},
		{name: "auto-migrate", run: func(ctx context.Context, p *Pool) error {
			if err := p.gdb.WithContext(ctx).AutoMigrate(autoMigrateModels()...); err != nil {
				return fmt.Errorf("gorm auto-migrate models: %w", err)
			}
			return nil
		}},
		// Embeddings and foreign keys depend on the tables created above.
		{name: "post-auto-migrate", run: sqlStep("post-auto-migrate", postAutoMigrateSQL)},
	}
}

// Migrate brings the dronewatch schema up to date. Every step is idempotent.
func (p *Pool) Migrate(ctx context.Context, logger zerolog.Logger) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	for _, step := range migrationSteps() {
		logger.Debug().Str("step", step.name).Msg("running schema migration step")
		if err := step.run(ctx, p); err != nil {
			return err
		}
	}
	logger.Info().Msg("schema is up to date")
	return nil
}

func sqlStep(label, sqlText string) func(ctx context.Context, p *Pool) error {
	return func(ctx context.Context, p *Pool) error {
		trimmed := strings.TrimSpace(sqlText)
		if trimmed == "" {
			return nil
		}
		if err := p.gdb.WithContext(ctx).Exec(trimmed).Error; err != nil {
			return fmt.Errorf("execute %s SQL: %w", label, err)
		}
		return nil
	}
}
