package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-queue/internal/searchindex"
)

// ProvisionTenant creates a clinic with a freshly generated search mapping,
// sealed at rest. timezone may be empty to use the engine default.
func (e *Engine) ProvisionTenant(ctx context.Context, name, timezone string) (uuid.UUID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return uuid.Nil, errors.New("queue: tenant name required")
	}
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return uuid.Nil, fmt.Errorf("queue: invalid timezone %q: %w", timezone, err)
		}
	}

	mapping, err := searchindex.GenerateMapping()
	if err != nil {
		return uuid.Nil, fmt.Errorf("queue: generate mapping: %w", err)
	}
	plain, err := mapping.MarshalJSON()
	if err != nil {
		return uuid.Nil, fmt.Errorf("queue: encode mapping: %w", err)
	}
	sealed, err := e.sealer.EncryptString(string(plain))
	if err != nil {
		return uuid.Nil, fmt.Errorf("queue: seal mapping: %w", err)
	}

	id := uuid.New()
	if _, err := e.pool.Exec(ctx, `
		INSERT INTO tenants (id, name, timezone, search_mapping, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)`,
		id, name, timezone, sealed, e.now().UTC()); err != nil {
		return uuid.Nil, fmt.Errorf("queue: insert tenant: %w", err)
	}
	return id, nil
}

// SetFee configures the fee charged for a visit reason.
func (e *Engine) SetFee(ctx context.Context, tenantID uuid.UUID, reason string, fees int64) error {
	reason = strings.TrimSpace(reason)
	if reason == "" || fees < 0 {
		return fmt.Errorf("queue: invalid fee %q=%d", reason, fees)
	}
	if _, err := e.pool.Exec(ctx, `
		INSERT INTO fee_schedules (tenant_id, fees_for, fees)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, fees_for) DO UPDATE SET fees = EXCLUDED.fees`,
		tenantID, reason, fees); err != nil {
		return fmt.Errorf("queue: set fee: %w", err)
	}
	return nil
}
