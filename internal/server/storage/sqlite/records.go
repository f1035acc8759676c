package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/iudanet/offsync/internal/server/storage"
	"github.com/iudanet/offsync/internal/validation"
)

var _ storage.RecordStorage = (*Storage)(nil)

// SaveRecord creates or replaces a record.
// A repeated idempotency key returns the record saved by the first request.
func (s *Storage) SaveRecord(ctx context.Context, w storage.Write, record json.RawMessage) (json.RawMessage, bool, error) {
	if w.ID == "" {
		return nil, false, storage.ErrMissingID
	}

	var (
		saved     json.RawMessage
		duplicate bool
	)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		prev, found, err := lookupKey(ctx, tx, w)
		if err != nil {
			return err
		}
		if found {
			saved, duplicate = prev, true
			return nil
		}

		now := s.now().Unix()
		query := `
			INSERT INTO records (tenant_id, collection, id, data, actor_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (tenant_id, collection, id) DO UPDATE
			SET data = excluded.data, actor_id = excluded.actor_id, updated_at = excluded.updated_at
		`
		if _, err := tx.ExecContext(ctx, query,
			w.TenantID, w.Collection, w.ID, string(record), w.ActorID, now, now,
		); err != nil {
			return fmt.Errorf("failed to save record: %w", err)
		}

		saved = record
		return rememberKey(ctx, tx, w, record, now)
	})
	if err != nil {
		return nil, false, err
	}

	return saved, duplicate, nil
}

// DeleteRecord removes a record.
// Returns ErrRecordNotFound if record doesn't exist
func (s *Storage) DeleteRecord(ctx context.Context, w storage.Write) (bool, error) {
	if w.ID == "" {
		return false, storage.ErrMissingID
	}

	duplicate := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, found, err := lookupKey(ctx, tx, w)
		if err != nil {
			return err
		}
		if found {
			duplicate = true
			return nil
		}

		res, err := tx.ExecContext(ctx,
			`DELETE FROM records WHERE tenant_id = ? AND collection = ? AND id = ?`,
			w.TenantID, w.Collection, w.ID)
		if err != nil {
			return fmt.Errorf("failed to delete record: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return storage.ErrRecordNotFound
		}

		return rememberKey(ctx, tx, w, nil, s.now().Unix())
	})

	return duplicate, err
}

// ListRecords returns records of one collection in creation order
func (s *Storage) ListRecords(ctx context.Context, q storage.Query) ([]json.RawMessage, error) {
	query := `SELECT data FROM records WHERE tenant_id = ? AND collection = ?`
	args := []any{q.TenantID, q.Collection}

	if q.Field != "" {
		// имя поля попадает в JSON path
		if err := validation.ValidateIdentifier("field", q.Field); err != nil {
			return nil, fmt.Errorf("%w: %w", storage.ErrInvalidFilter, err)
		}
		if len(q.Keys) == 0 {
			return []json.RawMessage{}, nil
		}

		// числа сравниваются по текстовому представлению, как их передаёт клиент
		query += ` AND CAST(json_extract(data, ?) AS TEXT) IN (` +
			strings.TrimSuffix(strings.Repeat("?, ", len(q.Keys)), ", ") + `)`
		args = append(args, "$."+q.Field)
		for _, key := range q.Keys {
			args = append(args, key)
		}
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]json.RawMessage, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, json.RawMessage(data))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

func lookupKey(ctx context.Context, tx *sql.Tx, w storage.Write) (json.RawMessage, bool, error) {
	if w.IdempotencyKey == "" {
		return nil, false, nil
	}

	var response sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT response FROM idempotency_keys WHERE tenant_id = ? AND key = ?`,
		w.TenantID, w.IdempotencyKey).Scan(&response)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to check idempotency key: %w", err)
	}

	if !response.Valid {
		return nil, true, nil
	}
	return json.RawMessage(response.String), true, nil
}

func rememberKey(ctx context.Context, tx *sql.Tx, w storage.Write, response json.RawMessage, now int64) error {
	if w.IdempotencyKey == "" {
		return nil
	}

	var value sql.NullString
	if response != nil {
		value = sql.NullString{String: string(response), Valid: true}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO idempotency_keys (tenant_id, key, response, created_at) VALUES (?, ?, ?, ?)`,
		w.TenantID, w.IdempotencyKey, value, now,
	); err != nil {
		return fmt.Errorf("failed to save idempotency key: %w", err)
	}
	return nil
}
