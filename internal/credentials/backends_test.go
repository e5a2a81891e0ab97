package credentials

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"contenthub.org/internal/events"
)

func TestFileBackendPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	backend, err := NewFileBackend(path)
	if err != nil {
		t.Fatalf("new file backend: %v", err)
	}
	store, err := Open(context.Background(), backend, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Write("at", "rt", &User{ID: "u1"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}

	again, _ := NewFileBackend(path)
	reopened, err := Open(context.Background(), again, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if s := reopened.Read(); s.RefreshToken != "rt" || s.UserID() != "u1" {
		t.Fatalf("unexpected restored session: %+v", s)
	}

	if err := reopened.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected session file removed, stat err=%v", err)
	}
}

func TestFileBackendWatchNoticesExternalLogout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	backend, _ := NewFileBackend(path)
	bus := events.NewBus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := bus.Subscribe(ctx)

	store, err := Open(ctx, backend, bus)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Write("at", "rt", nil); err != nil {
		t.Fatalf("write: %v", err)
	}

	go func() { _ = store.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// Another process logs out by removing the document.
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}

	select {
	case evt := <-changes:
		if evt.Reason != events.ReasonExternal {
			t.Fatalf("unexpected reason %q", evt.Reason)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no session-changed event after external removal")
	}
	if store.Read().Authenticated() {
		t.Fatal("expected store to drop the session")
	}
}

func TestRedisBackendRoundTrip(t *testing.T) {
	mini, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mini.Close()

	client := goredis.NewClient(&goredis.Options{Addr: mini.Addr()})
	backend := NewRedisBackend(client, "")
	defer backend.Close()

	store, err := Open(context.Background(), backend, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Write("at1", "rt1", &User{ID: "u1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := mini.HGet(defaultRedisKey, KeyRefreshToken); got != "rt1" {
		t.Fatalf("unexpected refresh token in redis: %q", got)
	}

	if err := store.Write("at2", "rt2", nil); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if got := mini.HGet(defaultRedisKey, KeyUser); got != "" {
		t.Fatalf("expected user removed, got %q", got)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if mini.Exists(defaultRedisKey) {
		t.Fatal("expected session hash removed")
	}
}

func TestPostgresBackendSaveIsTransactional(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	backend := NewPostgresBackend(db, "cli")

	mock.ExpectBegin()
	mock.ExpectExec("delete from credential_kv").WithArgs("cli", KeyUser).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into credential_kv").WithArgs("cli", KeyAccessToken, "at").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into credential_kv").WithArgs("cli", KeyRefreshToken, "rt").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = backend.Save(context.Background(), map[string]string{
		KeyRefreshToken: "rt",
		KeyAccessToken:  "at",
	}, []string{KeyUser})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	mock.ExpectQuery("select key, value from credential_kv").WithArgs("cli").WillReturnRows(
		sqlmock.NewRows([]string{"key", "value"}).
			AddRow(KeyAccessToken, "at").
			AddRow(KeyRefreshToken, "rt"),
	)
	values, err := backend.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if values[KeyAccessToken] != "at" || values[KeyRefreshToken] != "rt" {
		t.Fatalf("unexpected values: %v", values)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresBackendRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	backend := NewPostgresBackend(db, "")
	mock.ExpectBegin()
	mock.ExpectExec("insert into credential_kv").WithArgs(defaultNamespace, KeyAccessToken, "at").WillReturnError(os.ErrDeadlineExceeded)
	mock.ExpectRollback()

	if err := backend.Save(context.Background(), map[string]string{KeyAccessToken: "at"}, nil); err == nil {
		t.Fatal("expected save error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
