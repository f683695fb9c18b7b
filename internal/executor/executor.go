package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"SiteHealthPlatform/internal/domain"
	"SiteHealthPlatform/internal/plugin"
	"SiteHealthPlatform/pkg/logger"
	"SiteHealthPlatform/pkg/metrics"
)

// Executor выполняет отдельные проверки через зарегистрированные плагины
// Гарантирует таймаут, перехват паники и единый формат результата
type Executor struct {
	registry       *plugin.Registry
	logger         logger.Logger
	metrics        *metrics.Metrics
	defaultTimeout time.Duration
}

// NewExecutor создает исполнитель проверок
func NewExecutor(registry *plugin.Registry, log logger.Logger, m *metrics.Metrics, defaultTimeout time.Duration) *Executor {
	if defaultTimeout <= 0 {
		defaultTimeout = 10 * time.Second
	}
	return &Executor{
		registry:       registry,
		logger:         log,
		metrics:        m,
		defaultTimeout: defaultTimeout,
	}
}

// Execute выполняет одну проверку и всегда возвращает результат
// Сбой плагина, паника или таймаут превращаются в результат со статусом failure
func (e *Executor) Execute(ctx context.Context, cfg *domain.CheckConfiguration) *domain.CheckResult {
	var span oteltrace.Span
	if e.metrics != nil && e.metrics.Tracer != nil {
		ctx, span = e.metrics.Tracer.Start(ctx, "executor.Execute",
			oteltrace.WithAttributes(
				attribute.String("check.id", cfg.ID),
				attribute.String("check.type", cfg.Type),
			))
		defer span.End()
	}

	check, err := e.registry.Resolve(cfg.Type)
	if err != nil {
		e.logger.Warn("check plugin not found",
			logger.String("configuration_id", cfg.ID),
			logger.String("type", cfg.Type))
		result := domain.NewCheckResult(cfg.ID, cfg.OrganizationID,
			domain.ResultStatusFailure, fmt.Sprintf("unknown check type: %s", cfg.Type))
		e.observe(cfg, result, 0)
		return result
	}

	timeout := cfg.GetTimeoutDuration()
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if e.metrics != nil {
		e.metrics.ChecksInFlight.Inc()
		defer e.metrics.ChecksInFlight.Dec()
	}

	start := time.Now()
	done := make(chan pluginResult, 1)
	go func() {
		outcome, execErr := e.executeSafely(execCtx, check, cfg)
		done <- pluginResult{outcome: outcome, err: execErr}
	}()

	// Плагин, игнорирующий отмену контекста, не задерживает исполнителя,
	// его поздний результат отбрасывается
	var outcome *plugin.Outcome
	select {
	case res := <-done:
		outcome, err = res.outcome, res.err
	case <-execCtx.Done():
		err = execCtx.Err()
	}
	elapsed := time.Since(start)

	var result *domain.CheckResult
	switch {
	case err != nil:
		message := err.Error()
		if execCtx.Err() == context.DeadlineExceeded {
			message = fmt.Sprintf("check timed out after %s", timeout)
		}
		result = domain.NewCheckResult(cfg.ID, cfg.OrganizationID, domain.ResultStatusFailure, message)

	case execCtx.Err() == context.DeadlineExceeded:
		result = domain.NewCheckResult(cfg.ID, cfg.OrganizationID,
			domain.ResultStatusFailure, fmt.Sprintf("check timed out after %s", timeout))

	default:
		result = domain.NewCheckResult(cfg.ID, cfg.OrganizationID, outcome.Status, outcome.Message)
		result.Details = outcome.Details
	}

	result.ResponseTimeMs = elapsed.Milliseconds()

	e.logger.Debug("check executed",
		logger.String("configuration_id", cfg.ID),
		logger.String("type", cfg.Type),
		logger.String("status", string(result.Status)),
		logger.Duration("elapsed", elapsed))

	e.observe(cfg, result, elapsed)
	return result
}

// pluginResult итог одного вызова плагина
type pluginResult struct {
	outcome *plugin.Outcome
	err     error
}

// executeSafely выполняет плагин с перехватом паники
func (e *Executor) executeSafely(ctx context.Context, check plugin.Check, cfg *domain.CheckConfiguration) (outcome *plugin.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("check plugin panicked",
				logger.String("configuration_id", cfg.ID),
				logger.String("type", cfg.Type),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
			outcome = nil
			err = fmt.Errorf("plugin panic: %v", r)
		}
	}()

	outcome, err = check.Execute(ctx, cfg.Target, cfg.Config)
	if err == nil && outcome == nil {
		err = fmt.Errorf("plugin returned no outcome")
	}
	return outcome, err
}

// observe записывает метрики выполнения
func (e *Executor) observe(cfg *domain.CheckConfiguration, result *domain.CheckResult, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.CheckExecutions.WithLabelValues(cfg.Type, string(result.Status)).Inc()
	e.metrics.CheckDuration.WithLabelValues(cfg.Type).Observe(elapsed.Seconds())
}
