package store

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the agent-state database at dsn, applies
// WAL + foreign-key pragmas, and runs this package's own embedded
// migrations via RunMigrations. internal/usageindex is a logically
// separate SQLite file per spec §4.6, with its own schema and its own
// PRAGMA synchronous=NORMAL tuning for a high-volume append workload, so it
// calls OpenDB/RunMigrations directly against its own embed.FS rather than
// going through this constructor.
func Open(dsn string) (*Store, error) {
	db, err := OpenDB(dsn, []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"})
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(db, migrationsFS); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// OpenDB opens a sqlite connection at dsn and applies pragmas in order.
// Factored out of Open so other databases this module owns (the usage
// index) can reuse the same connection-setup path with their own pragma
// set instead of re-implementing it.
func OpenDB(dsn string, pragmas []string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", p, err)
		}
	}
	return db, nil
}

// RunMigrations applies every not-yet-recorded *.sql file under
// migrations/ in migrations, in lexical order, each inside its own
// transaction, tracking progress in a schema_migrations table. Exported so
// any database this module owns can bring its own embed.FS of migrations
// rather than this package hardcoding a single migration set — this
// package's agent-state schema and internal/usageindex's separate
// usage-event schema both call it against their own embedded migrations.
func RunMigrations(db *sql.DB, migrations embed.FS) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var applied int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", f).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrations.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", f, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", f); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", f, err)
		}
	}
	return nil
}
