package eventstore

import (
	"context"
	"fmt"
	"time"
)

// DeviceRepo upserts devices and the workspace-device junction idempotently
// on every event (spec §4.F step 2).
type DeviceRepo struct{}

// Upsert creates the device row if absent, and otherwise advances
// last_seen_at only if ts is newer (spec §3: "update last_seen_at = event.timestamp
// only if newer").
func (r *DeviceRepo) Upsert(ctx context.Context, q Querier, deviceID string, ts time.Time) error {
	_, err := q.Exec(ctx, `
		INSERT INTO devices (id, first_seen_at, last_seen_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (id) DO UPDATE SET last_seen_at = GREATEST(devices.last_seen_at, EXCLUDED.last_seen_at)`,
		deviceID, ts,
	)
	if err != nil {
		return fmt.Errorf("upserting device %s: %w", deviceID, err)
	}
	return nil
}

// WorkspaceDeviceRepo maintains the many-to-many workspace<->device link.
type WorkspaceDeviceRepo struct{}

// Upsert records (or refreshes) the last_active_at timestamp for a
// workspace-device pairing.
func (r *WorkspaceDeviceRepo) Upsert(ctx context.Context, q Querier, workspaceID, deviceID string, ts time.Time) error {
	_, err := q.Exec(ctx, `
		INSERT INTO workspace_devices (workspace_id, device_id, last_active_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id, device_id) DO UPDATE
			SET last_active_at = GREATEST(workspace_devices.last_active_at, EXCLUDED.last_active_at)`,
		workspaceID, deviceID, ts,
	)
	if err != nil {
		return fmt.Errorf("upserting workspace_device (%s,%s): %w", workspaceID, deviceID, err)
	}
	return nil
}
