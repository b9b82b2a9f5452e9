package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// DBLogger writes entries to the audit_log table and answers queries from it
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db}

	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_log table: %w", err)
	}

	return logger, nil
}

// ensureTable creates the audit_log table if it doesn't exist
func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id VARCHAR(36) PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		actor_user_id VARCHAR(255) NOT NULL,
		actor_name VARCHAR(255) NOT NULL,
		actor_email VARCHAR(255) NOT NULL,
		kind VARCHAR(20) NOT NULL,
		details TEXT NOT NULL,
		subject VARCHAR(255)
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_log_kind ON audit_log(kind);
	`

	_, err := l.db.Exec(query)
	return err
}

// Append inserts one entry
func (l *DBLogger) Append(ctx context.Context, entry *Entry) error {
	query := `
		INSERT INTO audit_log (
			id, timestamp, actor_user_id, actor_name, actor_email,
			kind, details, subject
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := l.db.ExecContext(ctx, query,
		entry.ID, entry.Timestamp, entry.ActorUserID, entry.ActorName, entry.ActorEmail,
		string(entry.Kind), entry.Details, entry.Subject,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

// likeEscaper makes ILIKE match the search text literally, as
// Filter.Matches does
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Query searches entries, newest first
func (l *DBLogger) Query(ctx context.Context, filter Filter) ([]*Entry, error) {
	query := `
		SELECT
			id, timestamp, actor_user_id, actor_name, actor_email,
			kind, details, subject
		FROM audit_log
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	if filter.From != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.From)
		argCount++
	}

	if filter.To != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.To)
		argCount++
	}

	if len(filter.Kinds) > 0 {
		query += fmt.Sprintf(" AND kind = ANY($%d)", argCount)
		kinds := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = string(k)
		}
		args = append(args, pq.Array(kinds))
		argCount++
	}

	if filter.Text != "" {
		query += fmt.Sprintf(
			" AND (actor_name ILIKE $%[1]d ESCAPE '\\' OR actor_email ILIKE $%[1]d ESCAPE '\\'"+
				" OR details ILIKE $%[1]d ESCAPE '\\' OR subject ILIKE $%[1]d ESCAPE '\\')",
			argCount)
		args = append(args, "%"+likeEscaper.Replace(filter.Text)+"%")
		argCount++
	}

	query += " ORDER BY timestamp DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit log: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		var (
			e       Entry
			kind    string
			subject sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &e.ActorUserID, &e.ActorName, &e.ActorEmail,
			&kind, &e.Details, &subject,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Kind = Kind(kind)
		e.Subject = subject.String
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}

	return entries, nil
}

// Close is a no-op: the connection pool belongs to the caller and may be
// shared with other stores
func (l *DBLogger) Close() error {
	return nil
}
