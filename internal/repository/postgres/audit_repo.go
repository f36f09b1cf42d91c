package postgres

/*
Файл audit_repo.go — экспорт журнала оптимизатора в PostgreSQL.
Это только запись истории наружу: при старте состояние из таблицы не восстанавливается.
*/

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres

	"github.com/xela07ax/spaceai-optimizer/internal/audit"
)

const auditColumns = 6

const createAuditTable = `
CREATE TABLE IF NOT EXISTS optimizer_audit (
	id          TEXT        NOT NULL,
	kind        TEXT        NOT NULL,
	entity_id   TEXT        NOT NULL DEFAULT '',
	status      TEXT        NOT NULL DEFAULT '',
	payload     JSONB,
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS optimizer_audit_entity_idx ON optimizer_audit (entity_id, recorded_at);`

type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(connString string, maxConns int) (*AuditRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &AuditRepo{db: db}, nil
}

func (r *AuditRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Migrate создает таблицу журнала, если ее нет.
func (r *AuditRepo) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createAuditTable); err != nil {
		return fmt.Errorf("postgres: migrate optimizer_audit: %w", err)
	}
	return nil
}

func (r *AuditRepo) WriteBatch(ctx context.Context, records []audit.Record) error {
	if len(records) == 0 {
		return nil
	}
	query, args, err := buildInsert(records)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: write %d audit records: %w", len(records), err)
	}
	return nil
}

// buildInsert строит один INSERT на всю пачку.
func buildInsert(records []audit.Record) (string, []interface{}, error) {
	var sb strings.Builder
	args := make([]interface{}, 0, len(records)*auditColumns)

	for i, rec := range records {
		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			return "", nil, fmt.Errorf("postgres: marshal payload of %s: %w", rec.ID, err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		p := i * auditColumns
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)", p+1, p+2, p+3, p+4, p+5, p+6)
		args = append(args, rec.ID, rec.Kind, rec.EntityID, rec.Status, payload, rec.RecordedAt)
	}

	query := "INSERT INTO optimizer_audit (id, kind, entity_id, status, payload, recorded_at) VALUES " + sb.String()
	return query, args, nil
}

// ListByEntity — история одной сущности, от новых к старым.
func (r *AuditRepo) ListByEntity(ctx context.Context, entityID string, limit int) ([]audit.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, entity_id, status, payload, recorded_at
		FROM optimizer_audit
		WHERE entity_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2`, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query audit for %s: %w", entityID, err)
	}
	defer rows.Close()

	// Пустой слайс, чтобы в JSON был [] вместо null
	out := make([]audit.Record, 0)
	for rows.Next() {
		var rec audit.Record
		var payload []byte
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.EntityID, &rec.Status, &payload, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit record: %w", err)
		}
		if len(payload) > 0 {
			rec.Payload = json.RawMessage(payload)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *AuditRepo) Close() error {
	return r.db.Close()
}
