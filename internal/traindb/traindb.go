// Package traindb persists spike train sets and comparison results to
// sqlite for downstream querying.
package traindb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/neurobench/sortagree/internal/agreement"
	"github.com/neurobench/sortagree/internal/compare"
	"github.com/neurobench/sortagree/internal/train"
)

type DB struct {
	*sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and runs
// any pending migrations. Foreign keys are enabled through the DSN so the
// pragma applies to every pooled connection, not just the first one.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}

	db := &DB{sqlDB}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// SetInfo summarises a stored train set.
type SetInfo struct {
	SetID        string
	Name         string
	SamplingRate float64
	NumUnits     int
	NumEvents    int
}

// SaveSet stores a train set under its name, replacing any previous set
// with the same name. Returns the new set ID.
func (db *DB) SaveSet(ctx context.Context, set *train.Set) (string, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM train_sets WHERE name = ?`, set.Name()); err != nil {
		return "", fmt.Errorf("replacing train set %q: %w", set.Name(), err)
	}

	setID := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO train_sets (set_id, name, sampling_rate, num_units, num_events)
		 VALUES (?, ?, ?, ?, ?)`,
		setID, set.Name(), set.SamplingRate(), set.NumUnits(), set.TotalEvents()); err != nil {
		return "", fmt.Errorf("inserting train set %q: %w", set.Name(), err)
	}

	unitStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO units (set_id, unit_id, num_events) VALUES (?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer unitStmt.Close()
	eventStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (set_id, unit_id, frame) VALUES (?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer eventStmt.Close()

	for _, unitID := range set.UnitIDs() {
		events, err := set.Events(unitID)
		if err != nil {
			return "", err
		}
		if _, err := unitStmt.ExecContext(ctx, setID, unitID, len(events)); err != nil {
			return "", fmt.Errorf("inserting unit %q: %w", unitID, err)
		}
		for _, frame := range events {
			if _, err := eventStmt.ExecContext(ctx, setID, unitID, frame); err != nil {
				return "", fmt.Errorf("inserting events for unit %q: %w", unitID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return setID, nil
}

// LoadSet reads a train set back by name.
func (db *DB) LoadSet(ctx context.Context, name string) (*train.Set, error) {
	var setID string
	var samplingRate float64
	err := db.QueryRowContext(ctx,
		`SELECT set_id, sampling_rate FROM train_sets WHERE name = ?`, name).
		Scan(&setID, &samplingRate)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("train set %q not found", name)
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT unit_id, frame FROM events WHERE set_id = ? ORDER BY unit_id, frame`, setID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	units := make(map[string][]train.Frame)
	for rows.Next() {
		var unitID string
		var frame train.Frame
		if err := rows.Scan(&unitID, &frame); err != nil {
			return nil, err
		}
		units[unitID] = append(units[unitID], frame)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Units with no events are recorded in the units table only.
	unitRows, err := db.QueryContext(ctx,
		`SELECT unit_id FROM units WHERE set_id = ?`, setID)
	if err != nil {
		return nil, err
	}
	defer unitRows.Close()
	for unitRows.Next() {
		var unitID string
		if err := unitRows.Scan(&unitID); err != nil {
			return nil, err
		}
		if _, ok := units[unitID]; !ok {
			units[unitID] = nil
		}
	}
	if err := unitRows.Err(); err != nil {
		return nil, err
	}

	return train.NewSet(name, samplingRate, units)
}

// ListSets returns summaries of all stored train sets, newest first.
func (db *DB) ListSets(ctx context.Context) ([]SetInfo, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT set_id, name, sampling_rate, num_units, num_events
		 FROM train_sets ORDER BY created_at DESC, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []SetInfo
	for rows.Next() {
		var info SetInfo
		if err := rows.Scan(&info.SetID, &info.Name, &info.SamplingRate,
			&info.NumUnits, &info.NumEvents); err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// RecordComparison stores a pairwise comparison run and its matched pairs.
// Returns the run ID.
func (db *DB) RecordComparison(ctx context.Context, result *compare.MatchResult) (string, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	runID := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO comparison_runs
		 (run_id, ref_name, test_name, window_frames, min_accuracy, matched, missed, false_positives)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, result.RefName, result.TestName,
		result.Options.CoincidenceWindow, result.Options.MinAccuracy,
		len(result.Matched), len(result.MissedRefs), len(result.FalsePositives)); err != nil {
		return "", fmt.Errorf("inserting comparison run: %w", err)
	}

	for _, p := range result.Matched {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO matched_pairs
			 (run_id, ref_unit, test_unit, coincidences, accuracy, precision, recall)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, p.RefID, p.TestID, p.Coincidences, p.Accuracy, p.Precision, p.Recall); err != nil {
			return "", fmt.Errorf("inserting matched pair %s/%s: %w", p.RefID, p.TestID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return runID, nil
}

// RecordAgreement stores an agreement run: the derived set (if non-nil)
// plus the drop accounting. Returns the run ID.
func (db *DB) RecordAgreement(ctx context.Context, graph *agreement.Graph,
	opts compare.Options, minimumMatching int, result *train.Set, report agreement.DropReport) (string, error) {

	var resultSetID sql.NullString
	if result != nil {
		id, err := db.SaveSet(ctx, result)
		if err != nil {
			return "", err
		}
		resultSetID = sql.NullString{String: id, Valid: true}
	}

	runID := uuid.NewString()
	if _, err := db.ExecContext(ctx,
		`INSERT INTO agreement_runs
		 (run_id, num_sets, window_frames, min_accuracy, minimum_matching, retained, dropped, result_set_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, graph.NumSets(), opts.CoincidenceWindow, opts.MinAccuracy,
		minimumMatching, report.Retained, report.Dropped, resultSetID); err != nil {
		return "", fmt.Errorf("inserting agreement run: %w", err)
	}
	return runID, nil
}
