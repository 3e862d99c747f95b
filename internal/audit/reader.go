package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Record is an audit entry as exposed to downstream viewers.
type Record struct {
	ID             string          `json:"id"`
	Action         string          `json:"action"`
	Details        string          `json:"details,omitempty"`
	TenantID       string          `json:"tenant_id"`
	DoctorID       string          `json:"doctor_id,omitempty"`
	ReceptionistID string          `json:"receptionist_id,omitempty"`
	Role           string          `json:"role"`
	Entity         string          `json:"entity"`
	EntityID       string          `json:"entity_id,omitempty"`
	Status         string          `json:"status"`
	OldValue       json.RawMessage `json:"old_value,omitempty"`
	NewValue       json.RawMessage `json:"new_value,omitempty"`
	Endpoint       string          `json:"endpoint,omitempty"`
	IPAddress      string          `json:"ip_address,omitempty"`
	UserAgent      string          `json:"user_agent,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Filter specifies criteria for querying audit records.
type Filter struct {
	TenantID  string
	Entity    string
	EntityID  string
	Action    string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

// Reader queries audit records over database/sql.
type Reader struct {
	db *sql.DB
}

// NewReader creates a reader.
func NewReader(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// Query retrieves audit records, newest first.
func (r *Reader) Query(ctx context.Context, filter Filter) ([]Record, error) {
	query := `
		SELECT id, action, details, tenant_id, doctor_id, receptionist_id, role,
			   entity, entity_id, status, old_value, new_value,
			   endpoint, ip_address, user_agent, created_at
		FROM audit_logs
		WHERE tenant_id = $1
	`
	args := []interface{}{filter.TenantID}
	argIdx := 2

	if filter.Entity != "" {
		query += fmt.Sprintf(" AND entity = $%d", argIdx)
		args = append(args, filter.Entity)
		argIdx++
	}
	if filter.EntityID != "" {
		query += fmt.Sprintf(" AND entity_id = $%d", argIdx)
		args = append(args, filter.EntityID)
		argIdx++
	}
	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, filter.Action)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var details, doctorID, receptionistID, entityID sql.NullString
		var endpoint, ip, ua sql.NullString
		var oldValue, newValue []byte
		err := rows.Scan(
			&rec.ID, &rec.Action, &details, &rec.TenantID, &doctorID, &receptionistID, &rec.Role,
			&rec.Entity, &entityID, &rec.Status, &oldValue, &newValue,
			&endpoint, &ip, &ua, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("audit: scan record: %w", err)
		}
		rec.Details = details.String
		rec.DoctorID = doctorID.String
		rec.ReceptionistID = receptionistID.String
		rec.EntityID = entityID.String
		rec.Endpoint = endpoint.String
		rec.IPAddress = ip.String
		rec.UserAgent = ua.String
		if len(oldValue) > 0 {
			rec.OldValue = json.RawMessage(oldValue)
		}
		if len(newValue) > 0 {
			rec.NewValue = json.RawMessage(newValue)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate records: %w", err)
	}
	return records, nil
}
