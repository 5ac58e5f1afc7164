package services

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mkourtis/go-dm-backend/internal/domain"
	"github.com/mkourtis/go-dm-backend/internal/repo"
)

// newTestDB opens a throwaway sqlite database and migrates the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("services_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// acceptPair inserts an accepted connection so the pair may converse.
func acceptPair(t *testing.T, db *gorm.DB, a, b string) {
	t.Helper()
	conn, err := repo.CreateConnection(context.Background(), db, a, b)
	if err != nil {
		t.Fatalf("CreateConnection(%s, %s): %v", a, b, err)
	}
	if err := repo.UpdateConnectionStatus(context.Background(), db, conn.ID, domain.StatusAccepted); err != nil {
		t.Fatalf("accept connection: %v", err)
	}
}

// newProfile inserts a profile and returns it.
func newProfile(t *testing.T, db *gorm.DB, username string) *domain.UserProfile {
	t.Helper()
	p, err := repo.CreateProfile(context.Background(), db, username, username)
	if err != nil {
		t.Fatalf("CreateProfile(%s): %v", username, err)
	}
	return p
}
