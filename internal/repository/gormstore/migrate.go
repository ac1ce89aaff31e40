package gormstore

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/sakif/civicfix/internal/model"
	"github.com/sakif/civicfix/internal/repository"
)

var (
	_ repository.Migrator        = (*Store)(nil)
	_ repository.Pinger          = (*Store)(nil)
	_ repository.StatsRepository = (*Store)(nil)

	_ repository.AnalyticsRepository = (*Store)(nil)
)

// tables in dependency order.
var tables = []struct {
	name  string
	model any
}{
	{"users", &model.User{}},
	{"issues", &model.Issue{}},
	{"comments", &model.Comment{}},
	{"upvotes", &model.Upvote{}},
	{"status_history", &model.StatusHistory{}},
}

// Migrate brings the schema up to date. It is idempotent: a second run
// reports no new tables and no applied steps.
func (s *Store) Migrate(ctx context.Context) (*repository.MigrationResult, error) {
	result := &repository.MigrationResult{NewTables: []string{}, Applied: []string{}}

	// Schema changes can take longer than a single query, so only the
	// caller's context bounds them.
	db := s.db.WithContext(ctx)
	m := db.Migrator()

	existed := make(map[string]bool, len(tables))
	for _, t := range tables {
		existed[t.name] = m.HasTable(t.model)
	}

	applied, err := s.upgradeLegacySchema(db, existed)
	if err != nil {
		return nil, s.translate("migrate", err)
	}
	result.Applied = append(result.Applied, applied...)

	for _, t := range tables {
		if err := db.AutoMigrate(t.model); err != nil {
			return nil, s.translate("migrate "+t.name, fmt.Errorf("auto-migrating %s: %w", t.name, err))
		}
		if !existed[t.name] {
			result.NewTables = append(result.NewTables, t.name)
		}
	}

	s.logger.Info("database migrated",
		slog.Any("new_tables", result.NewTables),
		slog.Any("applied", result.Applied),
	)
	return result, nil
}

// upgradeLegacySchema fixes databases created before the current models.
// Each step checks before it changes anything.
func (s *Store) upgradeLegacySchema(db *gorm.DB, existed map[string]bool) ([]string, error) {
	var applied []string
	m := db.Migrator()

	if existed["comments"] && m.HasColumn(&model.Comment{}, "text") && !m.HasColumn(&model.Comment{}, "content") {
		if err := m.RenameColumn(&model.Comment{}, "text", "content"); err != nil {
			return nil, fmt.Errorf("renaming comments.text: %w", err)
		}
		applied = append(applied, "comments.text renamed to content")
	}

	if existed["users"] && !m.HasColumn(&model.User{}, "photo_url") {
		if err := m.AddColumn(&model.User{}, "PhotoURL"); err != nil {
			return nil, fmt.Errorf("adding users.photo_url: %w", err)
		}
		applied = append(applied, "users.photo_url added")
	}

	if existed["issues"] && m.HasColumn(&model.Issue{}, "image_urls") {
		res := db.Exec("UPDATE issues SET image_urls = '[]' WHERE image_urls IS NULL")
		if res.Error != nil {
			return nil, fmt.Errorf("backfilling issues.image_urls: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			applied = append(applied, fmt.Sprintf("issues.image_urls backfilled (%d rows)", res.RowsAffected))
		}
	}

	return applied, nil
}
