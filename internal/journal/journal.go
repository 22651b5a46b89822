// Package journal keeps a local SQLite log of accepted readings so an
// operator on the device can inspect recent history without the broker.
// It is a secondary sink; the bridge never replays from it.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/sensorbridge/internal/httputil"
	"github.com/banshee-data/sensorbridge/internal/monitoring"
	"github.com/banshee-data/sensorbridge/internal/record"
	"github.com/banshee-data/sensorbridge/internal/timeutil"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 1000
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Entry is a journaled reading.
type Entry struct {
	ID         int64         `json:"id"`
	Record     record.Record `json:"record"`
	ReceivedAt time.Time     `json:"received_at"`
}

// Journal is a publish sink backed by SQLite.
type Journal struct {
	*sql.DB
	path  string
	clock timeutil.Clock
}

// Open opens (creating if needed) the journal at path and applies pending
// migrations.
func Open(path string, clock timeutil.Clock) (*Journal, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// modernc sqlite serialises writers anyway; one connection avoids
	// SQLITE_BUSY between the sink worker and admin queries.
	db.SetMaxOpenConns(1)

	j := &Journal{DB: db, path: path, clock: clock}
	if err := j.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// MigrateUp runs all pending migrations up to the latest version.
// Returns nil if no migrations were needed (already at latest version).
func (j *Journal) MigrateUp() error {
	m, err := j.newMigrate()
	if err != nil {
		return err
	}
	// Note: We don't close m here because it would close the underlying DB connection.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current migration version and dirty state.
// Returns 0, false, nil if no migrations have been applied yet.
func (j *Journal) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := j.newMigrate()
	if err != nil {
		return 0, false, err
	}

	version, dirty, err = m.Version()
	if err != nil && errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (j *Journal) newMigrate() (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(j.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// Publish implements publish.Sink.
func (j *Journal) Publish(ctx context.Context, rec record.Record) error {
	receivedAt := float64(j.clock.Now().UnixNano()) / 1e9
	_, err := j.ExecContext(ctx,
		`INSERT INTO readings (temperature, humidity, received_at) VALUES (?, ?, ?)`,
		rec.Temperature, rec.Humidity, receivedAt,
	)
	if err != nil {
		return fmt.Errorf("journal insert: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := j.QueryContext(ctx,
		`SELECT reading_id, temperature, humidity, received_at FROM readings ORDER BY reading_id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var receivedAt float64
		if err := rows.Scan(&e.ID, &e.Record.Temperature, &e.Record.Humidity, &receivedAt); err != nil {
			return nil, err
		}
		sec := int64(receivedAt)
		nsec := int64((receivedAt - float64(sec)) * 1e9)
		e.ReceivedAt = time.Unix(sec, nsec).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Count returns the number of journaled readings.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	var n int64
	err := j.QueryRowContext(ctx, `SELECT COUNT(*) FROM readings`).Scan(&n)
	return n, err
}

// Prune deletes readings older than cutoff and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.ExecContext(ctx,
		`DELETE FROM readings WHERE received_at < ?`,
		float64(cutoff.UnixNano())/1e9,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RunPruner deletes readings older than retention once per interval until
// ctx is done.
func (j *Journal) RunPruner(ctx context.Context, retention, interval time.Duration) {
	for {
		if err := timeutil.Sleep(ctx, j.clock, interval); err != nil {
			return
		}
		n, err := j.Prune(ctx, j.clock.Now().Add(-retention))
		if err != nil {
			monitoring.Logf("[journal] prune failed: %v", err)
			continue
		}
		if n > 0 {
			monitoring.Logf("[journal] pruned %d readings older than %v", n, retention)
		}
	}
}

// AttachAdminRoutes mounts a read-only SQL browser over the journal on the
// tsweb debug mux.
func (j *Journal) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		monitoring.Logf("[journal] failed to create tailsql server: %v", err)
		return
	}
	tsql.SetDB("sqlite://"+j.path, j.DB, &tailsql.DBOptions{
		Label: "Sensor journal",
	})
	debug.Handle("tailsql/", "SQL live debugging of the reading journal", tsql.NewMux())

	debug.HandleFunc("journal-recent", "most recent journaled readings as JSON", func(w http.ResponseWriter, r *http.Request) {
		limit := defaultRecentLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				httputil.BadRequest(w, "limit must be a positive integer")
				return
			}
			limit = min(n, maxRecentLimit)
		}
		entries, err := j.Recent(r.Context(), limit)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, entries)
	})
}
