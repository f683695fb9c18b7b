package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"SiteHealthPlatform/internal/domain"
	"SiteHealthPlatform/internal/repository"
	"SiteHealthPlatform/pkg/errors"
	"SiteHealthPlatform/pkg/logger"
)

// ResultRepository реализация репозитория результатов для PostgreSQL
type ResultRepository struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

// NewResultRepository создает новый репозиторий результатов
func NewResultRepository(pool *pgxpool.Pool, logger logger.Logger) repository.ResultRepository {
	return &ResultRepository{
		pool:   pool,
		logger: logger,
	}
}

const resultColumns = `
	id, configuration_id, organization_id, status,
	response_time_ms, message, details, checked_at
`

// Save сохраняет результат проверки
func (r *ResultRepository) Save(ctx context.Context, result *domain.CheckResult) error {
	r.logger.Debug("Saving check result",
		logger.String("configuration_id", result.ConfigurationID),
		logger.String("status", string(result.Status)),
	)

	query := `
		INSERT INTO check_results (` + resultColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		result.ID, result.ConfigurationID, result.OrganizationID, result.Status,
		result.ResponseTimeMs, result.Message, result.Details, result.CheckedAt,
	)
	if err != nil {
		r.logger.Error("Failed to save check result",
			logger.String("configuration_id", result.ConfigurationID),
			logger.Error(err),
		)
		return errors.Wrap(err, errors.ErrInternal, "failed to save check result")
	}

	return nil
}

// GetByID возвращает результат по идентификатору
func (r *ResultRepository) GetByID(ctx context.Context, id string) (*domain.CheckResult, error) {
	query := `SELECT ` + resultColumns + ` FROM check_results WHERE id = $1`

	result, err := scanResult(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.New(errors.ErrNotFound, "check result not found")
		}
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to get check result")
	}

	return result, nil
}

// List возвращает результаты по фильтру, новые первыми
func (r *ResultRepository) List(ctx context.Context, filter repository.ResultFilter) ([]*domain.CheckResult, error) {
	query := `SELECT ` + resultColumns + ` FROM check_results WHERE 1=1`
	args := make([]interface{}, 0, 6)
	arg := 0

	addArg := func(clause string, value interface{}) {
		arg++
		query += fmt.Sprintf(" AND %s $%d", clause, arg)
		args = append(args, value)
	}

	if filter.ConfigurationID != "" {
		addArg("configuration_id =", filter.ConfigurationID)
	}
	if filter.OrganizationID != "" {
		addArg("organization_id =", filter.OrganizationID)
	}
	if filter.Status != "" {
		addArg("status =", filter.Status)
	}
	if !filter.From.IsZero() {
		addArg("checked_at >=", filter.From)
	}
	if !filter.To.IsZero() {
		addArg("checked_at <=", filter.To)
	}

	query += " ORDER BY checked_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	arg++
	query += fmt.Sprintf(" LIMIT $%d", arg)
	args = append(args, limit)

	if filter.Offset > 0 {
		arg++
		query += fmt.Sprintf(" OFFSET $%d", arg)
		args = append(args, filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to list check results")
	}
	defer rows.Close()

	var out []*domain.CheckResult
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrInternal, "failed to scan check result")
		}
		out = append(out, result)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to iterate check results")
	}

	return out, nil
}

// GetLatest возвращает последний результат конфигурации
func (r *ResultRepository) GetLatest(ctx context.Context, configurationID string) (*domain.CheckResult, error) {
	query := `
		SELECT ` + resultColumns + `
		FROM check_results
		WHERE configuration_id = $1
		ORDER BY checked_at DESC
		LIMIT 1
	`

	result, err := scanResult(r.pool.QueryRow(ctx, query, configurationID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.New(errors.ErrNotFound, "check result not found")
		}
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to get latest check result")
	}

	return result, nil
}

// CountConsecutiveFailures считает непрерывную серию сбоев с конца истории
// Warning результаты серию не прерывают и не продлевают
func (r *ResultRepository) CountConsecutiveFailures(ctx context.Context, configurationID string) (int, error) {
	query := `
		SELECT status
		FROM check_results
		WHERE configuration_id = $1 AND status <> 'warning'
		ORDER BY checked_at DESC
		LIMIT 100
	`

	rows, err := r.pool.Query(ctx, query, configurationID)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrInternal, "failed to count consecutive failures")
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var status domain.ResultStatus
		if err := rows.Scan(&status); err != nil {
			return 0, errors.Wrap(err, errors.ErrInternal, "failed to scan result status")
		}
		if status != domain.ResultStatusFailure {
			break
		}
		count++
	}

	if err := rows.Err(); err != nil {
		return 0, errors.Wrap(err, errors.ErrInternal, "failed to iterate result statuses")
	}

	return count, nil
}

// DeleteOlderThan удаляет результаты старше отметки времени
func (r *ResultRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM check_results WHERE checked_at < $1`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrInternal, "failed to delete old check results")
	}

	return tag.RowsAffected(), nil
}

// scanResult читает одну строку результата
func scanResult(row pgx.Row) (*domain.CheckResult, error) {
	var result domain.CheckResult
	err := row.Scan(
		&result.ID, &result.ConfigurationID, &result.OrganizationID, &result.Status,
		&result.ResponseTimeMs, &result.Message, &result.Details, &result.CheckedAt,
	)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
