package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"SiteHealthPlatform/internal/domain"
	"SiteHealthPlatform/internal/repository"
	"SiteHealthPlatform/pkg/errors"
	"SiteHealthPlatform/pkg/logger"
)

// IncidentRepository реализация репозитория инцидентов для PostgreSQL
type IncidentRepository struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

// NewIncidentRepository создает новый репозиторий инцидентов
func NewIncidentRepository(pool *pgxpool.Pool, logger logger.Logger) repository.IncidentRepository {
	return &IncidentRepository{
		pool:   pool,
		logger: logger,
	}
}

const incidentColumns = `
	id, configuration_id, organization_id, status, failure_count, reason,
	started_at, acknowledged_at, acknowledged_by, resolved_at, created_at, updated_at
`

// Create сохраняет новый инцидент
func (r *IncidentRepository) Create(ctx context.Context, incident *domain.Incident) error {
	r.logger.Debug("Creating incident",
		logger.String("incident_id", incident.ID),
		logger.String("configuration_id", incident.ConfigurationID),
	)

	query := `
		INSERT INTO incidents (` + incidentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.pool.Exec(ctx, query,
		incident.ID, incident.ConfigurationID, incident.OrganizationID,
		incident.Status, incident.FailureCount, incident.Reason,
		incident.StartedAt, incident.AcknowledgedAt, incident.AcknowledgedBy,
		incident.ResolvedAt, incident.CreatedAt, incident.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create incident",
			logger.String("incident_id", incident.ID),
			logger.Error(err),
		)
		return errors.Wrap(err, errors.ErrInternal, "failed to create incident")
	}

	return nil
}

// GetByID возвращает инцидент по идентификатору
func (r *IncidentRepository) GetByID(ctx context.Context, id string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`

	incident, err := scanIncident(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.New(errors.ErrNotFound, "incident not found")
		}
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to get incident")
	}

	return incident, nil
}

// GetUnresolvedByConfiguration возвращает активный инцидент конфигурации
func (r *IncidentRepository) GetUnresolvedByConfiguration(ctx context.Context, configurationID string) (*domain.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE configuration_id = $1 AND status <> 'resolved'
		ORDER BY started_at DESC
		LIMIT 1
	`

	incident, err := scanIncident(r.pool.QueryRow(ctx, query, configurationID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.New(errors.ErrNotFound, "unresolved incident not found")
		}
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to get unresolved incident")
	}

	return incident, nil
}

// ListByOrganization возвращает инциденты организации, новые первыми
func (r *IncidentRepository) ListByOrganization(ctx context.Context, organizationID string, limit, offset int) ([]*domain.Incident, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE organization_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, organizationID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to list incidents")
	}
	defer rows.Close()

	var out []*domain.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrInternal, "failed to scan incident")
		}
		out = append(out, incident)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to iterate incidents")
	}

	return out, nil
}

// ListByConfiguration возвращает инциденты конфигурации, новые первыми
// Пустой статус означает любой
func (r *IncidentRepository) ListByConfiguration(ctx context.Context, configurationID string, status domain.IncidentStatus, limit, offset int) ([]*domain.Incident, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE configuration_id = $1
	`
	args := []interface{}{configurationID}

	if status != "" {
		query += ` AND status = $2 ORDER BY started_at DESC LIMIT $3 OFFSET $4`
		args = append(args, status, limit, offset)
	} else {
		query += ` ORDER BY started_at DESC LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to list configuration incidents")
	}
	defer rows.Close()

	var out []*domain.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrInternal, "failed to scan incident")
		}
		out = append(out, incident)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to iterate incidents")
	}

	return out, nil
}

// UpdateFailureCount обновляет счетчик сбоев инцидента
func (r *IncidentRepository) UpdateFailureCount(ctx context.Context, id string, failureCount int) error {
	query := `
		UPDATE incidents
		SET failure_count = $2, updated_at = $3
		WHERE id = $1 AND status <> 'resolved'
	`

	tag, err := r.pool.Exec(ctx, query, id, failureCount, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to update incident failure count")
	}

	if tag.RowsAffected() == 0 {
		return errors.New(errors.ErrNotFound, "active incident not found")
	}

	return nil
}

// Acknowledge переводит инцидент в состояние acknowledged
// Допустим только переход из открытого состояния
func (r *IncidentRepository) Acknowledge(ctx context.Context, id, acknowledgedBy string) error {
	now := time.Now().UTC()
	query := `
		UPDATE incidents
		SET status = 'acknowledged', acknowledged_at = $2, acknowledged_by = $3, updated_at = $2
		WHERE id = $1 AND status = 'open'
	`

	tag, err := r.pool.Exec(ctx, query, id, now, acknowledgedBy)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to acknowledge incident")
	}

	if tag.RowsAffected() == 0 {
		return errors.New(errors.ErrConflict, "incident is not open")
	}

	return nil
}

// Resolve переводит инцидент в состояние resolved
func (r *IncidentRepository) Resolve(ctx context.Context, id string) error {
	now := time.Now().UTC()
	query := `
		UPDATE incidents
		SET status = 'resolved', resolved_at = $2, updated_at = $2
		WHERE id = $1 AND status <> 'resolved'
	`

	tag, err := r.pool.Exec(ctx, query, id, now)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to resolve incident")
	}

	if tag.RowsAffected() == 0 {
		return errors.New(errors.ErrConflict, "incident is already resolved")
	}

	return nil
}

// scanIncident читает одну строку инцидента
func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var incident domain.Incident
	var acknowledgedBy *string

	err := row.Scan(
		&incident.ID, &incident.ConfigurationID, &incident.OrganizationID,
		&incident.Status, &incident.FailureCount, &incident.Reason,
		&incident.StartedAt, &incident.AcknowledgedAt, &acknowledgedBy,
		&incident.ResolvedAt, &incident.CreatedAt, &incident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if acknowledgedBy != nil {
		incident.AcknowledgedBy = *acknowledgedBy
	}

	return &incident, nil
}
