package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bridgebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "bridge.db"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func conv(provider, id, title string) domain.Conversation {
	return domain.Conversation{Key: domain.Key{Provider: provider, ID: id}, Title: title}
}

func TestRunMigrations_FreshAndIdempotent(t *testing.T) {
	db := testDB(t)
	for i := 0; i < 2; i++ {
		if err := RunMigrations(db, testLogger()); err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
	}
	version, err := GetSchemaVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if version != schemaVersion {
		t.Errorf("expected schema version %d, got %d", schemaVersion, version)
	}
}

func TestRunMigrations_CreatesExpectedTables(t *testing.T) {
	db := testDB(t)
	if err := RunMigrations(db, testLogger()); err != nil {
		t.Fatal(err)
	}
	for _, table := range []string{"conversations", "persons", "connections", "schema_version"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestRunMigrations_PartialUpgrade(t *testing.T) {
	db := testDB(t)
	// An index from v2 already exists without being recorded.
	if err := RunMigrations(db, testLogger()); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("DELETE FROM schema_version WHERE version = 2"); err != nil {
		t.Fatal(err)
	}
	if err := RunMigrations(db, testLogger()); err != nil {
		t.Fatalf("re-applying v2 failed: %v", err)
	}
	if v, _ := GetSchemaVersion(db); v != schemaVersion {
		t.Errorf("version = %d", v)
	}
}

func TestGetSchemaVersion_EmptyDB(t *testing.T) {
	if v, err := GetSchemaVersion(testDB(t)); err != nil || v != 0 {
		t.Errorf("got %d, %v", v, err)
	}
}

func TestSQLiteStore_OpenMigrates(t *testing.T) {
	s := testStore(t)
	if v, err := s.SchemaVersion(); err != nil || v != schemaVersion {
		t.Fatalf("SchemaVersion = %d, %v", v, err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestConversation_Upsert(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	c := conv(domain.ProviderTelegram, "-1", "Old")

	if got, err := s.FindConversation(ctx, c.Key); err != nil || got != nil {
		t.Fatalf("expected miss, got %v %v", got, err)
	}
	if err := s.UpsertConversation(ctx, c); err != nil {
		t.Fatal(err)
	}
	c.Title = "New"
	if err := s.UpsertConversation(ctx, c); err != nil {
		t.Fatal(err)
	}
	got, err := s.FindConversation(ctx, c.Key)
	if err != nil || got == nil || got.Title != "New" {
		t.Fatalf("got %v %v", got, err)
	}
}

func TestPerson_SaveFindDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	p := domain.Person{Key: domain.Key{Provider: domain.ProviderVK, ID: "1"}, DisplayName: "Pavel", IsAdmin: true}

	if err := s.SavePerson(ctx, p); err != nil {
		t.Fatal(err)
	}
	got, err := s.FindPerson(ctx, p.Key)
	if err != nil || got == nil || !got.IsAdmin || got.DisplayName != "Pavel" {
		t.Fatalf("got %+v %v", got, err)
	}
	if err := s.DeletePerson(ctx, p.Key); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.FindPerson(ctx, p.Key); got != nil {
		t.Error("person should be gone")
	}
}

func TestConnection_Lifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	left := conv(domain.ProviderTelegram, "-1", "TG chat")
	right := conv(domain.ProviderVK, "2000000001", "VK chat")
	for _, c := range []domain.Conversation{left, right} {
		if err := s.UpsertConversation(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	pending, err := s.CreatePendingConnection(ctx, left, "$mbb2$tok")
	if err != nil {
		t.Fatal(err)
	}
	found, err := s.FindConnectionByToken(ctx, "$mbb2$tok")
	if err != nil || found == nil || found.ID != pending.ID || !found.Pending() {
		t.Fatalf("by token: %+v %v", found, err)
	}

	if err := s.CompleteConnection(ctx, pending.ID, right.Key); err != nil {
		t.Fatal(err)
	}
	if again, _ := s.FindConnectionByToken(ctx, "$mbb2$tok"); again != nil {
		t.Error("token must be burnt after completion")
	}
	if err := s.CompleteConnection(ctx, pending.ID, right.Key); !errors.Is(err, ErrNotFound) {
		t.Errorf("second completion: %v", err)
	}

	for _, key := range []domain.Key{left.Key, right.Key} {
		conns, err := s.FindConnectionsFor(ctx, key)
		if err != nil || len(conns) != 1 {
			t.Fatalf("connections for %v: %v %v", key, conns, err)
		}
		c := conns[0]
		if c.Right == nil || c.Right.Title != "VK chat" || c.Left.Title != "TG chat" {
			t.Errorf("titles not joined: %+v", c)
		}
		if target, ok := c.Target(left.Key); !ok || target.Key != right.Key {
			t.Errorf("target from left = %v %v", target, ok)
		}
	}

	if err := s.SetDirection(ctx, pending.ID, domain.ToLeft); err != nil {
		t.Fatal(err)
	}
	c, err := s.FindConnection(ctx, pending.ID)
	if err != nil || c.Direction != domain.ToLeft {
		t.Fatalf("direction: %+v %v", c, err)
	}

	if err := s.DeleteConnection(ctx, pending.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteConnection(ctx, pending.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
	if c, _ := s.FindConnection(ctx, pending.ID); c != nil {
		t.Error("connection should be gone")
	}
}

func TestDeleteExpiredPending(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if _, err := s.CreatePendingConnection(ctx, conv(domain.ProviderTelegram, "-1", ""), "a"); err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteExpiredPending(ctx, time.Now().Add(-time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("fresh token removed: %d %v", n, err)
	}
	n, err = s.DeleteExpiredPending(ctx, time.Now().Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("expired token kept: %d %v", n, err)
	}
}
