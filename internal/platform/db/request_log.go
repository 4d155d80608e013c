package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/ehr/patientdesk/internal/platform/fhirclient"
)

// DBTX is the subset of *pgxpool.Pool the request log uses.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const requestLogSchema = `CREATE TABLE IF NOT EXISTS fhir_request_log (
    id BIGSERIAL PRIMARY KEY,
    request_id TEXT NOT NULL,
    interaction TEXT NOT NULL,
    method TEXT NOT NULL,
    path TEXT NOT NULL,
    resource_type TEXT,
    resource_id TEXT,
    status_code INTEGER NOT NULL,
    duration_ms BIGINT NOT NULL,
    error TEXT,
    occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const insertInteraction = `INSERT INTO fhir_request_log
    (request_id, interaction, method, path, resource_type, resource_id, status_code, duration_ms, error, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const listInteractions = `SELECT request_id, interaction, method, path,
    COALESCE(resource_type, ''), COALESCE(resource_id, ''),
    status_code, duration_ms, COALESCE(error, ''), occurred_at
FROM fhir_request_log
ORDER BY occurred_at DESC, id DESC
LIMIT $1`

// RequestLog records every remote interaction in Postgres. It implements
// fhirclient.Observer.
type RequestLog struct {
	db           DBTX
	logger       zerolog.Logger
	writeTimeout time.Duration
}

func NewRequestLog(db DBTX, logger zerolog.Logger) *RequestLog {
	return &RequestLog{
		db:           db,
		logger:       logger.With().Str("component", "request-log").Logger(),
		writeTimeout: 2 * time.Second,
	}
}

// EnsureSchema creates the log table if it does not exist.
func (l *RequestLog) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, requestLogSchema); err != nil {
		return fmt.Errorf("create fhir_request_log table: %w", err)
	}
	return nil
}

// Record inserts one interaction.
func (l *RequestLog) Record(ctx context.Context, in fhirclient.Interaction) error {
	_, err := l.db.Exec(ctx, insertInteraction,
		in.RequestID,
		in.Kind,
		in.Method,
		in.Path,
		nullable(in.ResourceType),
		nullable(in.ResourceID),
		in.StatusCode,
		in.Duration.Milliseconds(),
		nullable(in.Error),
		in.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert request log entry: %w", err)
	}
	return nil
}

// ObserveInteraction records in without failing the remote call: a write
// error is logged and dropped.
func (l *RequestLog) ObserveInteraction(ctx context.Context, in fhirclient.Interaction) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.writeTimeout)
	defer cancel()
	if err := l.Record(ctx, in); err != nil {
		l.logger.Warn().Err(err).Str("request_id", in.RequestID).Msg("request log write failed")
	}
}

// Recent returns up to limit interactions, newest first.
func (l *RequestLog) Recent(ctx context.Context, limit int) ([]fhirclient.Interaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.Query(ctx, listInteractions, limit)
	if err != nil {
		return nil, fmt.Errorf("query request log: %w", err)
	}
	defer rows.Close()

	var out []fhirclient.Interaction
	for rows.Next() {
		var (
			in         fhirclient.Interaction
			durationMS int64
		)
		if err := rows.Scan(
			&in.RequestID, &in.Kind, &in.Method, &in.Path,
			&in.ResourceType, &in.ResourceID,
			&in.StatusCode, &durationMS, &in.Error, &in.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan request log entry: %w", err)
		}
		in.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate request log: %w", err)
	}
	return out, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
