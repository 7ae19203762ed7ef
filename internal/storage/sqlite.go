package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"

	logx "pagewatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Primary result codes for a damaged database file.
const (
	sqliteCorrupt = 11
	sqliteNotADB  = 26
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (*Stores, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := openSQLiteDB(path, cfg.BusyTimeout)
	if err != nil {
		if !isCorrupt(err) {
			return nil, err
		}
		aside := path + ".corrupt-" + time.Now().UTC().Format("20060102T150405")
		if rerr := os.Rename(path, aside); rerr != nil {
			return nil, fmt.Errorf("sqlite corrupt and could not be moved aside: %w", errors.Join(err, rerr))
		}
		_ = os.Remove(path + "-wal")
		_ = os.Remove(path + "-shm")
		log.Warn("sqlite store corrupt; moved aside and starting empty", logx.String("path", path), logx.String("moved_to", aside), logx.Err(err))
		if db, err = openSQLiteDB(path, cfg.BusyTimeout); err != nil {
			return nil, err
		}
	}

	st := &sqliteStore{db: db, log: log}
	return &Stores{
		Driver:      "sqlite",
		Snapshots:   &sqliteSnapshots{st: st},
		Subscribers: &sqliteSubscribers{st: st},
		closeFn:     st.Close,
	}, nil
}

func openSQLiteDB(path string, busy time.Duration) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Single writer keeps SQLite lock contention out of the picture.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(string(b)); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func isCorrupt(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqliteNotADB, sqliteCorrupt:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not a database") || strings.Contains(msg, "malformed")
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type sqliteSnapshots struct{ st *sqliteStore }

func (s *sqliteSnapshots) Get(ctx context.Context, url string) (Snapshot, bool, error) {
	var content, updated string
	err := s.st.db.QueryRowContext(ctx, `SELECT content, updated_at FROM snapshots WHERE url = ?`, url).Scan(&content, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	at, _ := time.Parse(time.RFC3339Nano, updated)
	return Snapshot{URL: url, Content: content, UpdatedAt: at}, true, nil
}

func (s *sqliteSnapshots) Put(ctx context.Context, url, content string) error {
	_, err := s.st.db.ExecContext(ctx,
		`INSERT INTO snapshots(url, content, updated_at) VALUES(?,?,?)
		 ON CONFLICT(url) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at
		 WHERE snapshots.content <> excluded.content`,
		url, content, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

func (s *sqliteSnapshots) Close() error { return nil }

type sqliteSubscribers struct{ st *sqliteStore }

func (s *sqliteSubscribers) Add(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, errors.New("subscriber id is empty")
	}
	res, err := s.st.db.ExecContext(ctx,
		`INSERT INTO subscribers(id, created_at) VALUES(?,?) ON CONFLICT(id) DO NOTHING`,
		id, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteSubscribers) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.st.db.ExecContext(ctx, `DELETE FROM subscribers WHERE id = ?`, strings.TrimSpace(id))
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteSubscribers) Contains(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.st.db.QueryRowContext(ctx, `SELECT 1 FROM subscribers WHERE id = ?`, strings.TrimSpace(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *sqliteSubscribers) List(ctx context.Context) ([]string, error) {
	rows, err := s.st.db.QueryContext(ctx, `SELECT id FROM subscribers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteSubscribers) Close() error { return nil }
