// Package sqlite records scanner sessions, their phase transitions and
// per-scan summaries in a SQLite database.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/safety.scanner/internal/scanner"
	"github.com/banshee-data/safety.scanner/internal/scanner/frames"
)

// ErrUnknownSession is returned when a session id has no row.
var ErrUnknownSession = errors.New("unknown session")

type Store struct {
	*sql.DB
	path string
}

// dsn applies the connection pragmas to every pooled connection.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(ON)")
	return "file:" + path + "?" + q.Encode()
}

// Open opens (creating if needed) the database at path and migrates it to the
// latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	s := &Store{DB: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// SessionRecord is one row of the sessions table.
type SessionRecord struct {
	ID          string
	Device      string
	Host        string
	ScanRange   scanner.ScanRange
	Resolution  scanner.TenthOfDegree
	Intensities bool
	StartedAt   time.Time
	EndedAt     time.Time // zero while the session is open
	FinalPhase  string
}

func (s *Store) CreateSession(r SessionRecord) error {
	_, err := s.Exec(
		`INSERT INTO sessions (
			session_id, device, host, scan_start, scan_end, resolution, intensities, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Device, r.Host, int32(r.ScanRange.Start), int32(r.ScanRange.End),
		int32(r.Resolution), r.Intensities, r.StartedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", r.ID, err)
	}
	return nil
}

// EndSession stamps the session's end time and the phase it ended in.
func (s *Store) EndSession(id string, at time.Time, finalPhase string) error {
	res, err := s.Exec(
		`UPDATE sessions SET ended_at = ?, final_phase = ? WHERE session_id = ?`,
		at.UnixNano(), finalPhase, id,
	)
	if err != nil {
		return fmt.Errorf("failed to end session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return nil
}

func (s *Store) RecordTransition(id, from, to string, at time.Time) error {
	_, err := s.Exec(
		`INSERT INTO phase_transitions (session_id, from_phase, to_phase, at) VALUES (?, ?, ?, ?)`,
		id, from, to, at.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record transition %s -> %s: %w", from, to, err)
	}
	return nil
}

// RecordScan stores the summary of scan under session id.
func (s *Store) RecordScan(id string, scan scanner.LaserScan) error {
	sum := frames.Summarize(scan)

	var minRange, maxRange, meanRange, stdDev, nearest any
	if sum.Valid > 0 {
		minRange, maxRange, meanRange, stdDev = sum.MinRange, sum.MaxRange, sum.MeanRange, sum.StdDev
		nearest = int32(sum.NearestAngle)
	}

	_, err := s.Exec(
		`INSERT INTO scans (
			session_id, scan_counter, timestamp, angle_min, angle_max, resolution,
			beams, valid, min_range, max_range, mean_range, std_dev, nearest_angle,
			active_zoneset
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, scan.ScanCounter, scan.Timestamp.UnixNano(), int32(scan.AngleMin), int32(scan.AngleMax),
		int32(scan.Resolution), sum.Beams, sum.Valid, minRange, maxRange, meanRange, stdDev, nearest,
		scan.ActiveZoneset,
	)
	if err != nil {
		return fmt.Errorf("failed to record scan %d: %w", scan.ScanCounter, err)
	}
	return nil
}

// Sessions returns up to limit sessions, newest first.
func (s *Store) Sessions(limit int) ([]SessionRecord, error) {
	rows, err := s.Query(
		`SELECT session_id, device, host, scan_start, scan_end, resolution, intensities,
			started_at, ended_at, final_phase
		FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var (
			r               SessionRecord
			start, end, res int32
			startedAt       int64
			endedAt         sql.NullInt64
			finalPhase      sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Device, &r.Host, &start, &end, &res, &r.Intensities,
			&startedAt, &endedAt, &finalPhase); err != nil {
			return nil, err
		}
		r.ScanRange = scanner.ScanRange{Start: scanner.TenthOfDegree(start), End: scanner.TenthOfDegree(end)}
		r.Resolution = scanner.TenthOfDegree(res)
		r.StartedAt = time.Unix(0, startedAt)
		if endedAt.Valid {
			r.EndedAt = time.Unix(0, endedAt.Int64)
		}
		r.FinalPhase = finalPhase.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// ScanRecord is one row of the scans table.
type ScanRecord struct {
	ScanCounter   uint32
	Timestamp     time.Time
	AngleMin      scanner.TenthOfDegree
	AngleMax      scanner.TenthOfDegree
	Summary       frames.Summary
	ActiveZoneset uint8
}

// Scans returns the recorded scans of session id in arrival order.
func (s *Store) Scans(id string) ([]ScanRecord, error) {
	rows, err := s.Query(
		`SELECT scan_counter, timestamp, angle_min, angle_max, beams, valid,
			min_range, max_range, mean_range, std_dev, nearest_angle, active_zoneset
		FROM scans WHERE session_id = ? ORDER BY scan_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScanRecord
	for rows.Next() {
		var (
			r                                     ScanRecord
			ts                                    int64
			angleMin, angleMax                    int32
			minRange, maxRange, meanRange, stdDev sql.NullFloat64
			nearest                               sql.NullInt32
		)
		if err := rows.Scan(&r.ScanCounter, &ts, &angleMin, &angleMax, &r.Summary.Beams, &r.Summary.Valid,
			&minRange, &maxRange, &meanRange, &stdDev, &nearest, &r.ActiveZoneset); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(0, ts)
		r.AngleMin = scanner.TenthOfDegree(angleMin)
		r.AngleMax = scanner.TenthOfDegree(angleMax)
		r.Summary.MinRange = minRange.Float64
		r.Summary.MaxRange = maxRange.Float64
		r.Summary.MeanRange = meanRange.Float64
		r.Summary.StdDev = stdDev.Float64
		r.Summary.NearestAngle = scanner.TenthOfDegree(nearest.Int32)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Transition is one row of the phase_transitions table.
type Transition struct {
	From, To string
	At       time.Time
}

// Transitions returns the phase transitions of session id in order.
func (s *Store) Transitions(id string) ([]Transition, error) {
	rows, err := s.Query(
		`SELECT from_phase, to_phase, at FROM phase_transitions
		WHERE session_id = ? ORDER BY transition_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		var at int64
		if err := rows.Scan(&t.From, &t.To, &at); err != nil {
			return nil, err
		}
		t.At = time.Unix(0, at)
		out = append(out, t)
	}
	return out, rows.Err()
}
