package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/edugate/internal/database"
	"github.com/BradenHooton/edugate/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// AuditLogRepository handles audit event persistence
type AuditLogRepository struct {
	pool *pgxpool.Pool
}

// NewAuditLogRepository creates a new AuditLogRepository
func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{pool: db.Pool}
}

var auditCopyColumns = []string{
	"id", "event_type", "user_id", "ip_address", "user_agent", "timestamp", "success", "details", "risk_level",
}

// scanAuditEventRow populates an AuditEvent model from a database row
func scanAuditEventRow(row rowScanner) (*models.AuditEvent, error) {
	var e models.AuditEvent
	var risk string

	err := row.Scan(
		&e.ID, &e.EventType, &e.UserID, &e.IPAddress, &e.UserAgent,
		&e.Timestamp, &e.Success, &e.Details, &risk,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	e.RiskLevel = models.RiskLevel(risk)

	return &e, nil
}

// InsertBatch writes events with a single COPY. The batch either lands
// whole or not at all.
func (r *AuditLogRepository) InsertBatch(ctx context.Context, events []*models.AuditEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	rows := make([][]interface{}, 0, len(events))
	for _, e := range events {
		details := e.Details
		if details == nil {
			details = models.AuditMetadata{}
		}
		raw, err := json.Marshal(details)
		if err != nil {
			return 0, fmt.Errorf("failed to encode audit details: %w", err)
		}

		rows = append(rows, []interface{}{
			e.ID, e.EventType, e.UserID, e.IPAddress, e.UserAgent,
			e.Timestamp, e.Success, raw, string(e.RiskLevel),
		})
	}

	n, err := r.pool.CopyFrom(ctx, pgx.Identifier{"audit_events"}, auditCopyColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("failed to insert audit events: %w", err)
	}

	return n, nil
}

// buildAuditWhere turns a filter into a WHERE clause with positional args.
func buildAuditWhere(filter models.AuditFilter) (string, []interface{}) {
	conds := make([]string, 0, 6)
	args := make([]interface{}, 0, 6)

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.UserID != "" {
		add("user_id::text = $%d", filter.UserID)
	}
	if filter.EventType != "" {
		add("event_type = $%d", filter.EventType)
	}
	if filter.IPAddress != "" {
		add("ip_address = $%d", filter.IPAddress)
	}
	if len(filter.RiskLevels) > 0 {
		levels := make([]string, len(filter.RiskLevels))
		for i, l := range filter.RiskLevels {
			levels[i] = string(l)
		}
		add("risk_level = ANY($%d::text[])", pq.Array(levels))
	}
	if filter.From != nil {
		add("timestamp >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("timestamp <= $%d", *filter.To)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Query returns the page of events matching filter, newest first, along
// with the total match count.
func (r *AuditLogRepository) Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, int64, error) {
	where, args := buildAuditWhere(filter)

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_events`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit events: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, event_type, user_id, ip_address, user_agent, timestamp, success, details, risk_level
		FROM audit_events%s
		ORDER BY timestamp DESC
		LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.AuditEvent, 0, filter.Limit)
	for rows.Next() {
		e, err := scanAuditEventRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating audit rows: %w", err)
	}

	return events, total, nil
}

// DeleteOlderThan removes events recorded before cutoff.
func (r *AuditLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM audit_events WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit events: %w", err)
	}

	return result.RowsAffected(), nil
}
