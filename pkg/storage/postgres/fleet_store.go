package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/HZeroxium/fleet-control/domain/heartbeat"
	"github.com/HZeroxium/fleet-control/pkg/storage"
)

// FleetStore persists the liveness projection, one row per instance.
type FleetStore struct {
	db *sqlx.DB
}

// NewFleetStore creates a projection store over db.
func NewFleetStore(db *sqlx.DB) *FleetStore {
	return &FleetStore{db: db}
}

type fleetRow struct {
	ServiceName       string    `db:"service_name"`
	InstanceID        string    `db:"instance_id"`
	LastSeen          time.Time `db:"last_seen"`
	ConfigHash        string    `db:"config_hash"`
	LastPayload       []byte    `db:"last_payload"`
	ConsecutiveMisses int       `db:"consecutive_misses"`
}

func (r *fleetRow) toEntry() (*heartbeat.FleetEntry, error) {
	entry := &heartbeat.FleetEntry{
		ServiceName:       r.ServiceName,
		InstanceID:        r.InstanceID,
		LastSeen:          r.LastSeen,
		ConfigHash:        r.ConfigHash,
		ConsecutiveMisses: r.ConsecutiveMisses,
	}
	if len(r.LastPayload) > 0 {
		if err := json.Unmarshal(r.LastPayload, &entry.LastPayload); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

func (s *FleetStore) Upsert(ctx context.Context, entry *heartbeat.FleetEntry) error {
	payload, err := json.Marshal(entry.LastPayload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fleet_projection (service_name, instance_id, last_seen, config_hash, last_payload, consecutive_misses)
		VALUES ($1, $2, $3, $4, $5, 0)
		ON CONFLICT (instance_id) DO UPDATE SET
			service_name = EXCLUDED.service_name,
			last_seen = EXCLUDED.last_seen,
			config_hash = EXCLUDED.config_hash,
			last_payload = EXCLUDED.last_payload,
			consecutive_misses = 0`,
		entry.ServiceName, entry.InstanceID, entry.LastSeen, entry.ConfigHash, payload)
	return err
}

func (s *FleetStore) Get(ctx context.Context, instanceID string) (*heartbeat.FleetEntry, error) {
	var row fleetRow
	err := s.db.GetContext(ctx, &row, `
		SELECT service_name, instance_id, last_seen, config_hash, last_payload, consecutive_misses
		FROM fleet_projection WHERE instance_id = $1`, instanceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toEntry()
}

func (s *FleetStore) ListByService(ctx context.Context, serviceName string) ([]heartbeat.FleetEntry, error) {
	var rows []fleetRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT service_name, instance_id, last_seen, config_hash, last_payload, consecutive_misses
		FROM fleet_projection WHERE service_name = $1 ORDER BY instance_id`, serviceName)
	if err != nil {
		return nil, err
	}
	return rowsToEntries(rows)
}

func (s *FleetStore) List(ctx context.Context) ([]heartbeat.FleetEntry, error) {
	var rows []fleetRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT service_name, instance_id, last_seen, config_hash, last_payload, consecutive_misses
		FROM fleet_projection ORDER BY service_name, instance_id`)
	if err != nil {
		return nil, err
	}
	return rowsToEntries(rows)
}

func (s *FleetStore) MarkMissed(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE fleet_projection SET consecutive_misses = consecutive_misses + 1
		WHERE last_seen < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *FleetStore) Retire(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fleet_projection WHERE last_seen < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func rowsToEntries(rows []fleetRow) ([]heartbeat.FleetEntry, error) {
	out := make([]heartbeat.FleetEntry, 0, len(rows))
	for i := range rows {
		entry, err := rows[i].toEntry()
		if err != nil {
			return nil, err
		}
		out = append(out, *entry)
	}
	return out, nil
}
