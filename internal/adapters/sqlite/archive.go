// Package sqlite keeps a local archive of a document's sequenced ops.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bft-labs/opstream/internal/domain"
	"github.com/bft-labs/opstream/internal/ports"
)

//go:embed schema.sql
var schemaSQL string

// Archive stores the ops of one document in SQLite. It implements
// ports.DeltaStorage and ports.StorageProvider.
type Archive struct {
	db         *sql.DB
	tenantID   string
	documentID string
}

// Open creates or opens the archive at path for a document.
//
// The database runs in WAL mode so readers never block the writer.
func Open(path, tenantID, documentID string) (*Archive, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect archive: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Archive{db: db, tenantID: tenantID, documentID: documentID}, nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Append stores msgs. Ops already archived are left untouched.
func (a *Archive) Append(ctx context.Context, msgs ...domain.SequencedMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO deltas
			(tenant_id, document_id, sequence_number, client_id, type, message, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		raw, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode op %d: %w", m.SequenceNumber, err)
		}
		var clientID interface{}
		if m.ClientID != "" {
			clientID = m.ClientID
		}
		if _, err := stmt.ExecContext(ctx, a.tenantID, a.documentID, m.SequenceNumber, clientID, string(m.Type), string(raw), now); err != nil {
			return fmt.Errorf("insert op %d: %w", m.SequenceNumber, err)
		}
	}
	return tx.Commit()
}

// Get implements ports.DeltaStorage: ops with from < seq < to, ascending.
// to <= 0 leaves the range open.
func (a *Archive) Get(ctx context.Context, from, to int64) ([]domain.SequencedMessage, error) {
	query := `SELECT message FROM deltas
		WHERE tenant_id = ? AND document_id = ? AND sequence_number > ?`
	args := []interface{}{a.tenantID, a.documentID, from}
	if to > 0 {
		query += ` AND sequence_number < ?`
		args = append(args, to)
	}
	query += ` ORDER BY sequence_number`

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Wrap(fmt.Errorf("query archive: %w", err), true)
	}
	defer rows.Close()

	var out []domain.SequencedMessage
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, domain.Wrap(fmt.Errorf("scan archive: %w", err), true)
		}
		var m domain.SequencedMessage
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, domain.NewFatalError(fmt.Sprintf("corrupt archived op: %v", err))
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Wrap(fmt.Errorf("read archive: %w", err), true)
	}
	return out, nil
}

// LastSequenceNumber returns the highest archived sequence number, or 0.
func (a *Archive) LastSequenceNumber(ctx context.Context) (int64, error) {
	var last sql.NullInt64
	err := a.db.QueryRowContext(ctx,
		`SELECT MAX(sequence_number) FROM deltas WHERE tenant_id = ? AND document_id = ?`,
		a.tenantID, a.documentID).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("last sequence number: %w", err)
	}
	return last.Int64, nil
}

// Count returns the number of archived ops.
func (a *Archive) Count(ctx context.Context) (int64, error) {
	var n int64
	err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deltas WHERE tenant_id = ? AND document_id = ?`,
		a.tenantID, a.documentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// ConnectToDeltaStorage implements ports.StorageProvider.
func (a *Archive) ConnectToDeltaStorage(context.Context) (ports.DeltaStorage, error) {
	return a, nil
}
