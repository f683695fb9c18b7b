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

// ConfigurationRepository реализация репозитория конфигураций для PostgreSQL
type ConfigurationRepository struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

// NewConfigurationRepository создает новый репозиторий конфигураций
func NewConfigurationRepository(pool *pgxpool.Pool, logger logger.Logger) repository.ConfigurationRepository {
	return &ConfigurationRepository{
		pool:   pool,
		logger: logger,
	}
}

const configurationColumns = `
	id, organization_id, website_id, name, type, target,
	interval_seconds, timeout_seconds, failure_threshold, enabled,
	config, created_at, updated_at, last_run_at, next_run_at
`

// Create сохраняет новую конфигурацию проверки
func (r *ConfigurationRepository) Create(ctx context.Context, cfg *domain.CheckConfiguration) error {
	query := `
		INSERT INTO check_configurations (` + configurationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.pool.Exec(ctx, query,
		cfg.ID, cfg.OrganizationID, cfg.WebsiteID, cfg.Name, cfg.Type, cfg.Target,
		cfg.IntervalSeconds, cfg.TimeoutSeconds, cfg.FailureThreshold, cfg.Enabled,
		cfg.Config, cfg.CreatedAt, cfg.UpdatedAt, cfg.LastRunAt, cfg.NextRunAt,
	)
	if err != nil {
		r.logger.Error("Failed to create check configuration",
			logger.String("configuration_id", cfg.ID),
			logger.Error(err),
		)
		return errors.Wrap(err, errors.ErrInternal, "failed to create check configuration")
	}

	return nil
}

// GetByID возвращает конфигурацию по идентификатору
func (r *ConfigurationRepository) GetByID(ctx context.Context, id string) (*domain.CheckConfiguration, error) {
	query := `SELECT ` + configurationColumns + ` FROM check_configurations WHERE id = $1`

	cfg, err := scanConfiguration(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.New(errors.ErrNotFound, "check configuration not found")
		}
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to get check configuration")
	}

	return cfg, nil
}

// Update обновляет конфигурацию проверки
func (r *ConfigurationRepository) Update(ctx context.Context, cfg *domain.CheckConfiguration) error {
	query := `
		UPDATE check_configurations SET
			name = $2, type = $3, target = $4,
			interval_seconds = $5, timeout_seconds = $6, failure_threshold = $7,
			enabled = $8, config = $9, updated_at = $10
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query,
		cfg.ID, cfg.Name, cfg.Type, cfg.Target,
		cfg.IntervalSeconds, cfg.TimeoutSeconds, cfg.FailureThreshold,
		cfg.Enabled, cfg.Config, cfg.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to update check configuration")
	}

	if tag.RowsAffected() == 0 {
		return errors.New(errors.ErrNotFound, "check configuration not found")
	}

	return nil
}

// Delete удаляет конфигурацию проверки
func (r *ConfigurationRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM check_configurations WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to delete check configuration")
	}

	if tag.RowsAffected() == 0 {
		return errors.New(errors.ErrNotFound, "check configuration not found")
	}

	return nil
}

// ListByOrganization возвращает конфигурации организации
func (r *ConfigurationRepository) ListByOrganization(ctx context.Context, organizationID string) ([]*domain.CheckConfiguration, error) {
	query := `
		SELECT ` + configurationColumns + `
		FROM check_configurations
		WHERE organization_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, organizationID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to list check configurations")
	}
	defer rows.Close()

	return collectConfigurations(rows)
}

// ListEnabled возвращает все включенные конфигурации
func (r *ConfigurationRepository) ListEnabled(ctx context.Context) ([]*domain.CheckConfiguration, error) {
	query := `
		SELECT ` + configurationColumns + `
		FROM check_configurations
		WHERE enabled = true
		ORDER BY created_at
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to list enabled configurations")
	}
	defer rows.Close()

	return collectConfigurations(rows)
}

// UpdateRunTimes фиксирует времена последнего и следующего запуска
func (r *ConfigurationRepository) UpdateRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt time.Time) error {
	query := `
		UPDATE check_configurations
		SET last_run_at = $2, next_run_at = $3
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, lastRunAt, nextRunAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to update run times")
	}

	if tag.RowsAffected() == 0 {
		return errors.New(errors.ErrNotFound, "check configuration not found")
	}

	return nil
}

// scanConfiguration читает одну строку конфигурации
func scanConfiguration(row pgx.Row) (*domain.CheckConfiguration, error) {
	var cfg domain.CheckConfiguration
	err := row.Scan(
		&cfg.ID, &cfg.OrganizationID, &cfg.WebsiteID, &cfg.Name, &cfg.Type, &cfg.Target,
		&cfg.IntervalSeconds, &cfg.TimeoutSeconds, &cfg.FailureThreshold, &cfg.Enabled,
		&cfg.Config, &cfg.CreatedAt, &cfg.UpdatedAt, &cfg.LastRunAt, &cfg.NextRunAt,
	)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// collectConfigurations читает все строки результата запроса
func collectConfigurations(rows pgx.Rows) ([]*domain.CheckConfiguration, error) {
	var out []*domain.CheckConfiguration
	for rows.Next() {
		cfg, err := scanConfiguration(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrInternal, "failed to scan check configuration")
		}
		out = append(out, cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to iterate check configurations")
	}

	return out, nil
}
