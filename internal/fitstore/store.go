// Package fitstore persists fit results in SQLite so batch campaigns can
// be compared across runs. The schema is managed with embedded
// golang-migrate migrations.
package fitstore

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/trackfit/internal/fitter"
	"github.com/banshee-data/trackfit/internal/monitoring"
	"github.com/banshee-data/trackfit/internal/timeutil"
	"github.com/banshee-data/trackfit/internal/track"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound reports a lookup for a fit that is not in the store.
var ErrNotFound = errors.New("fit not found")

// FitRecord is the persisted form of a fit result: the smoothed parameters
// at the first fitted surface plus the fit quality counters.
type FitRecord struct {
	FitID        string    `json:"fit_id"`
	Label        string    `json:"label"`
	SurfaceType  string    `json:"surface_type"`
	Chi2         float64   `json:"chi2"`
	NDF          int       `json:"ndf"`
	Measurements int       `json:"measurements"`
	Holes        int       `json:"holes"`
	Parameters   [track.BoundSize]float64 `json:"parameters"`
	// Covariance is the row-major 6x6 smoothed covariance.
	Covariance [track.BoundSize * track.BoundSize]float64 `json:"covariance"`
	CreatedAt  int64                                      `json:"created_at"`

	States []StateRecord `json:"states,omitempty"`
}

// StateRecord is the persisted per-surface fit state.
type StateRecord struct {
	Seq         int                      `json:"seq"`
	SurfaceType string                   `json:"surface_type"`
	PathLength  float64                  `json:"path_length"`
	Chi2        float64                  `json:"chi2"`
	IsHole      bool                     `json:"is_hole"`
	Smoothed    [track.BoundSize]float64 `json:"smoothed"`
}

// RecordFromResult flattens a fit result for persistence.
func RecordFromResult(label string, res *fitter.FitResult) *FitRecord {
	rec := &FitRecord{
		Label:        label,
		SurfaceType:  res.Surface.Type().String(),
		Chi2:         res.Chi2,
		NDF:          res.NDF,
		Measurements: res.Measurements,
		Holes:        res.Holes,
		Parameters:   res.Parameters.Vector,
	}
	if res.Parameters.Covariance != nil {
		for i := 0; i < track.BoundSize; i++ {
			for j := 0; j < track.BoundSize; j++ {
				rec.Covariance[i*track.BoundSize+j] = res.Parameters.Covariance.At(i, j)
			}
		}
	}
	for seq, ts := range res.States {
		sr := StateRecord{
			Seq:         seq,
			SurfaceType: ts.Surface.Type().String(),
			PathLength:  ts.PathLength,
			Chi2:        ts.Chi2,
			IsHole:      ts.IsHole,
		}
		if ts.HasSmoothed {
			sr.Smoothed = ts.Smoothed.Vector
		}
		rec.States = append(rec.States, sr)
	}
	return rec
}

// Store is a SQLite-backed fit archive. It is safe for concurrent use; the
// database serializes writers and busy errors are retried.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens (or creates) the store at path and applies pending
// migrations. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open fit store: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, clock: timeutil.RealClock{}}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	// Closing m would close the underlying DB connection; leave it to the
	// garbage collector.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// InsertFit persists a record together with its states in one
// transaction. An empty FitID is replaced by a fresh UUID.
func (s *Store) InsertFit(rec *FitRecord) error {
	if rec.FitID == "" {
		rec.FitID = uuid.New().String()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = s.clock.Now().UnixNano()
	}
	covJSON, err := json.Marshal(rec.Covariance)
	if err != nil {
		return fmt.Errorf("marshal covariance: %w", err)
	}

	return s.retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		_, err = tx.Exec(`
			INSERT INTO fits (
				fit_id, label, surface_type, chi2, ndf, measurements, holes,
				loc0, loc1, phi, theta, qoverp, t, covariance, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.FitID, rec.Label, rec.SurfaceType, rec.Chi2, rec.NDF,
			rec.Measurements, rec.Holes,
			rec.Parameters[track.Loc0], rec.Parameters[track.Loc1],
			rec.Parameters[track.Phi], rec.Parameters[track.Theta],
			rec.Parameters[track.QOverP], rec.Parameters[track.Time],
			string(covJSON), rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert fit: %w", err)
		}

		for _, st := range rec.States {
			smoothedJSON, err := json.Marshal(st.Smoothed)
			if err != nil {
				return fmt.Errorf("marshal state %d: %w", st.Seq, err)
			}
			_, err = tx.Exec(`
				INSERT INTO fit_states (
					fit_id, seq, surface_type, path_length, chi2, is_hole, smoothed
				) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				rec.FitID, st.Seq, st.SurfaceType, st.PathLength, st.Chi2,
				st.IsHole, string(smoothedJSON),
			)
			if err != nil {
				return fmt.Errorf("insert state %d: %w", st.Seq, err)
			}
		}
		return tx.Commit()
	})
}

// GetFit loads a record and its states by ID.
func (s *Store) GetFit(fitID string) (*FitRecord, error) {
	row := s.db.QueryRow(`
		SELECT fit_id, label, surface_type, chi2, ndf, measurements, holes,
		       loc0, loc1, phi, theta, qoverp, t, covariance, created_at
		FROM fits WHERE fit_id = ?`, fitID)

	rec, err := scanFit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", fitID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT seq, surface_type, path_length, chi2, is_hole, smoothed
		FROM fit_states WHERE fit_id = ? ORDER BY seq`, fitID)
	if err != nil {
		return nil, fmt.Errorf("query states: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st StateRecord
		var smoothedJSON string
		if err := rows.Scan(&st.Seq, &st.SurfaceType, &st.PathLength, &st.Chi2, &st.IsHole, &smoothedJSON); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		if err := json.Unmarshal([]byte(smoothedJSON), &st.Smoothed); err != nil {
			return nil, fmt.Errorf("unmarshal state %d: %w", st.Seq, err)
		}
		rec.States = append(rec.States, st)
	}
	return rec, rows.Err()
}

// ListFits returns all fits with the given label, newest first, without
// their states.
func (s *Store) ListFits(label string) ([]*FitRecord, error) {
	rows, err := s.db.Query(`
		SELECT fit_id, label, surface_type, chi2, ndf, measurements, holes,
		       loc0, loc1, phi, theta, qoverp, t, covariance, created_at
		FROM fits WHERE label = ? ORDER BY created_at DESC`, label)
	if err != nil {
		return nil, fmt.Errorf("query fits: %w", err)
	}
	defer rows.Close()

	var fits []*FitRecord
	for rows.Next() {
		rec, err := scanFit(rows)
		if err != nil {
			return nil, err
		}
		fits = append(fits, rec)
	}
	return fits, rows.Err()
}

// DeleteFit removes a fit and, through the cascade, its states.
func (s *Store) DeleteFit(fitID string) error {
	return s.retryOnBusy(func() error {
		result, err := s.db.Exec(`DELETE FROM fits WHERE fit_id = ?`, fitID)
		if err != nil {
			return fmt.Errorf("delete fit: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%s: %w", fitID, ErrNotFound)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFit(row rowScanner) (*FitRecord, error) {
	var rec FitRecord
	var covJSON string
	err := row.Scan(
		&rec.FitID, &rec.Label, &rec.SurfaceType, &rec.Chi2, &rec.NDF,
		&rec.Measurements, &rec.Holes,
		&rec.Parameters[track.Loc0], &rec.Parameters[track.Loc1],
		&rec.Parameters[track.Phi], &rec.Parameters[track.Theta],
		&rec.Parameters[track.QOverP], &rec.Parameters[track.Time],
		&covJSON, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(covJSON), &rec.Covariance); err != nil {
		return nil, fmt.Errorf("unmarshal covariance: %w", err)
	}
	return &rec, nil
}

// retryOnBusy retries a write a few times when SQLite reports a locked
// database, with a short linear backoff.
func (s *Store) retryOnBusy(fn func() error) error {
	const attempts = 5
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		s.clock.Sleep(time.Duration(i+1) * 10 * time.Millisecond)
		monitoring.Debugf("fitstore: retrying busy database (attempt %d)", i+2)
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
