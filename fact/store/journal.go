package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/teranos/factwire/errors"
	"github.com/teranos/factwire/fact"
)

const insertHistorySQL = `INSERT INTO fact_history (
	sequence, id, entity_type, entity_id, field, value, previous_value,
	source, source_url, confidence, verified_by, effective_date, importance,
	requires_human_review, reduced_confidence, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const upsertCurrentSQL = `INSERT INTO facts_current (
	id, entity_type, entity_id, field, sequence, value, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(entity_type, entity_id, field) DO UPDATE SET
	id = excluded.id,
	sequence = excluded.sequence,
	value = excluded.value,
	updated_at = excluded.updated_at`

const loadHistorySQL = `SELECT
	sequence, id, entity_type, entity_id, field, value, previous_value,
	source, source_url, confidence, verified_by, effective_date, importance,
	requires_human_review, reduced_confidence, created_at, updated_at
FROM fact_history ORDER BY sequence`

// SQLJournal writes admissions to the fact_history and facts_current
// tables created by the db migrations. Values are stored as JSON.
type SQLJournal struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewSQLJournal creates a journal over an already-migrated database
func NewSQLJournal(db *sql.DB, logger *zap.SugaredLogger) *SQLJournal {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SQLJournal{db: db, logger: logger}
}

// Record appends f to history and upserts the current row in one transaction
func (j *SQLJournal) Record(ctx context.Context, f *fact.Fact) error {
	value, err := json.Marshal(f.Value)
	if err != nil {
		return errors.Wrapf(err, "encode value of %s", f.ID)
	}
	var previous sql.NullString
	if f.PreviousValue != nil {
		data, err := json.Marshal(f.PreviousValue)
		if err != nil {
			return errors.Wrapf(err, "encode previous value of %s", f.ID)
		}
		previous = sql.NullString{String: string(data), Valid: true}
	}
	var effective sql.NullTime
	if f.EffectiveDate != nil {
		effective = sql.NullTime{Time: *f.EffectiveDate, Valid: true}
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin journal tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, insertHistorySQL,
		f.Sequence, f.ID, f.EntityType, f.EntityID, f.Field, string(value), previous,
		f.Source, nullString(f.SourceURL), f.Confidence, nullString(f.VerifiedBy), effective, int(f.Importance),
		f.RequiresHumanReview, f.ReducedConfidence, f.CreatedAt.UTC(), f.UpdatedAt.UTC(),
	); err != nil {
		return errors.Wrapf(err, "insert history %d", f.Sequence)
	}

	if _, err := tx.ExecContext(ctx, upsertCurrentSQL,
		f.ID, f.EntityType, f.EntityID, f.Field, f.Sequence, string(value), f.UpdatedAt.UTC(),
	); err != nil {
		return errors.Wrapf(err, "upsert current %s", f.ID)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit journal tx")
	}
	return nil
}

// Load returns the full history in sequence order
func (j *SQLJournal) Load(ctx context.Context) ([]*fact.Fact, error) {
	rows, err := j.db.QueryContext(ctx, loadHistorySQL)
	if err != nil {
		return nil, errors.Wrap(err, "query fact_history")
	}
	defer rows.Close()

	var out []*fact.Fact
	for rows.Next() {
		var (
			f          fact.Fact
			value      string
			previous   sql.NullString
			sourceURL  sql.NullString
			verifiedBy sql.NullString
			effective  sql.NullTime
			importance int
		)
		if err := rows.Scan(
			&f.Sequence, &f.ID, &f.EntityType, &f.EntityID, &f.Field, &value, &previous,
			&f.Source, &sourceURL, &f.Confidence, &verifiedBy, &effective, &importance,
			&f.RequiresHumanReview, &f.ReducedConfidence, &f.CreatedAt, &f.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan fact_history")
		}

		if f.Value, err = fact.DecodeValue([]byte(value)); err != nil {
			return nil, errors.Wrapf(err, "decode value at sequence %d", f.Sequence)
		}
		if previous.Valid {
			if f.PreviousValue, err = fact.DecodeValue([]byte(previous.String)); err != nil {
				return nil, errors.Wrapf(err, "decode previous value at sequence %d", f.Sequence)
			}
		}
		if effective.Valid {
			t := effective.Time
			f.EffectiveDate = &t
		}
		f.SourceURL = sourceURL.String
		f.VerifiedBy = verifiedBy.String
		f.Importance = fact.Importance(importance)
		out = append(out, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate fact_history")
	}

	j.logger.Debugw("Loaded journal", "count", len(out))
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
