package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/HZeroxium/fleet-control/domain/registry"
	"github.com/HZeroxium/fleet-control/pkg/storage"
)

// RegistryStore persists the application-service catalog and its shares.
type RegistryStore struct {
	db *sqlx.DB
}

// NewRegistryStore creates a catalog store over db.
func NewRegistryStore(db *sqlx.DB) *RegistryStore {
	return &RegistryStore{db: db}
}

type serviceRow struct {
	ID           string         `db:"id"`
	DisplayName  string         `db:"display_name"`
	OwnerTeamID  sql.NullString `db:"owner_team_id"`
	Environments pq.StringArray `db:"environments"`
	Tags         pq.StringArray `db:"tags"`
	Lifecycle    string         `db:"lifecycle"`
	RepoURL      sql.NullString `db:"repo_url"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	Version      int64          `db:"version"`
}

func (r *serviceRow) toService() *registry.ApplicationService {
	return &registry.ApplicationService{
		ID:           r.ID,
		DisplayName:  r.DisplayName,
		OwnerTeamID:  r.OwnerTeamID.String,
		Environments: r.Environments,
		Tags:         r.Tags,
		Lifecycle:    registry.Lifecycle(r.Lifecycle),
		RepoURL:      r.RepoURL.String,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		Version:      r.Version,
	}
}

func (s *RegistryStore) InsertService(ctx context.Context, svc *registry.ApplicationService) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO application_services
			(id, display_name, owner_team_id, environments, tags, lifecycle, repo_url, created_at, updated_at, version)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), $8, $9, $10)`,
		svc.ID, svc.DisplayName, svc.OwnerTeamID, pq.StringArray(svc.Environments), pq.StringArray(svc.Tags),
		string(svc.Lifecycle), svc.RepoURL, svc.CreatedAt, svc.UpdatedAt, svc.Version)
	if isUniqueViolation(err) {
		return storage.ErrDuplicateKey
	}
	return err
}

func (s *RegistryStore) GetService(ctx context.Context, id string) (*registry.ApplicationService, error) {
	var row serviceRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, display_name, owner_team_id, environments, tags, lifecycle, repo_url, created_at, updated_at, version
		FROM application_services WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toService(), nil
}

func (s *RegistryStore) ListServices(ctx context.Context) ([]registry.ApplicationService, error) {
	var rows []serviceRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, display_name, owner_team_id, environments, tags, lifecycle, repo_url, created_at, updated_at, version
		FROM application_services ORDER BY id`)
	if err != nil {
		return nil, err
	}
	out := make([]registry.ApplicationService, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toService())
	}
	return out, nil
}

func (s *RegistryStore) UpdateServiceVersioned(ctx context.Context, svc *registry.ApplicationService, expected int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE application_services
		SET display_name = $1, owner_team_id = NULLIF($2, ''), environments = $3, tags = $4,
		    lifecycle = $5, repo_url = NULLIF($6, ''), updated_at = $7, version = $8
		WHERE id = $9 AND version = $10`,
		svc.DisplayName, svc.OwnerTeamID, pq.StringArray(svc.Environments), pq.StringArray(svc.Tags),
		string(svc.Lifecycle), svc.RepoURL, svc.UpdatedAt, expected+1, svc.ID, expected)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, getErr := s.GetService(ctx, svc.ID); errors.Is(getErr, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return storage.ErrVersionConflict
	}
	svc.Version = expected + 1
	return nil
}

func (s *RegistryStore) InsertShare(ctx context.Context, share *registry.ServiceShare) error {
	permissions := make(pq.StringArray, len(share.Permissions))
	for i, p := range share.Permissions {
		permissions[i] = string(p)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_shares
			(id, service_id, grant_to_type, grant_to_id, permissions, environments, expires_at, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		share.ID, share.ServiceID, string(share.GrantToType), share.GrantToID,
		permissions, pq.StringArray(share.Environments), share.ExpiresAt, share.CreatedAt, share.CreatedBy)
	if isUniqueViolation(err) {
		return storage.ErrDuplicateKey
	}
	return err
}

type shareRow struct {
	ID           string         `db:"id"`
	ServiceID    string         `db:"service_id"`
	GrantToType  string         `db:"grant_to_type"`
	GrantToID    string         `db:"grant_to_id"`
	Permissions  pq.StringArray `db:"permissions"`
	Environments pq.StringArray `db:"environments"`
	ExpiresAt    *time.Time     `db:"expires_at"`
	CreatedAt    time.Time      `db:"created_at"`
	CreatedBy    string         `db:"created_by"`
}

func (s *RegistryStore) ListShares(ctx context.Context, serviceID string) ([]registry.ServiceShare, error) {
	var rows []shareRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, service_id, grant_to_type, grant_to_id, permissions, environments, expires_at, created_at, created_by
		FROM service_shares WHERE service_id = $1 ORDER BY id`, serviceID)
	if err != nil {
		return nil, err
	}
	out := make([]registry.ServiceShare, 0, len(rows))
	for _, row := range rows {
		permissions := make([]registry.Permission, len(row.Permissions))
		for i, p := range row.Permissions {
			permissions[i] = registry.Permission(p)
		}
		out = append(out, registry.ServiceShare{
			ID:           row.ID,
			ServiceID:    row.ServiceID,
			GrantToType:  registry.GrantType(row.GrantToType),
			GrantToID:    row.GrantToID,
			Permissions:  permissions,
			Environments: row.Environments,
			ExpiresAt:    row.ExpiresAt,
			CreatedAt:    row.CreatedAt,
			CreatedBy:    row.CreatedBy,
		})
	}
	return out, nil
}

func (s *RegistryStore) DeleteShare(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM service_shares WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
