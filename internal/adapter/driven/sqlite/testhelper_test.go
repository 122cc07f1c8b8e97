package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"testing"

	"github.com/aaaAlexanderaaa/my-gitstars/internal/domain/model"
)

// setupTestDB creates a named shared in-memory SQLite database for testing.
// Writer and reader connections share the same in-memory database via cache=shared.
// A unique name derived from t.Name() ensures isolation between parallel tests.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// Percent-encode the test name so it's a safe SQLite URI filename component
	// and cannot be misinterpreted as query parameters in the "file:%s?..." DSN.
	safeName := url.PathEscape(t.Name())
	// WAL mode is not applicable to in-memory databases; omit journal_mode pragma.
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
		safeName,
	)

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("create test db writer: %v", err)
	}
	writer.SetMaxOpenConns(1)
	if err := writer.PingContext(context.Background()); err != nil {
		_ = writer.Close()
		t.Fatalf("ping test db writer: %v", err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = writer.Close()
		t.Fatalf("create test db reader: %v", err)
	}
	reader.SetMaxOpenConns(4)
	if err := reader.PingContext(context.Background()); err != nil {
		_ = reader.Close()
		_ = writer.Close()
		t.Fatalf("ping test db reader: %v", err)
	}

	db := &DB{Writer: writer, Reader: reader, path: dsn}

	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// seedUser inserts a user and returns its internal id. Most tables hang off
// users via foreign keys, so nearly every test needs one.
func seedUser(t *testing.T, db *DB, githubID string) int64 {
	t.Helper()

	user, err := NewUserRepo(db).Upsert(context.Background(), model.User{
		GitHubID:    githubID,
		Username:    "tester",
		AccessToken: "gho_test",
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}

	return user.ID
}

// seedRepo inserts one repository for the user and returns the stored row.
func seedRepo(t *testing.T, db *DB, userID int64, githubID, fullName string) model.Repository {
	t.Helper()

	ctx := context.Background()
	repos := NewRepoRepo(db)

	err := repos.UpsertBatch(ctx, userID, []model.Repository{{
		GitHubID: githubID,
		FullName: fullName,
	}})
	if err != nil {
		t.Fatalf("seed repo: %v", err)
	}

	var id int64
	err = db.Reader.QueryRowContext(ctx,
		`SELECT id FROM repos WHERE user_id = ? AND github_id = ?`, userID, githubID).Scan(&id)
	if err != nil {
		t.Fatalf("look up seeded repo: %v", err)
	}

	stored, err := repos.GetByID(ctx, id)
	if err != nil || stored == nil {
		t.Fatalf("reload seeded repo: %v", err)
	}

	return *stored
}
