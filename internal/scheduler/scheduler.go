package scheduler

import (
	"context"
	"sync"
	"time"

	"SiteHealthPlatform/internal/domain"
	"SiteHealthPlatform/internal/eventbus"
	"SiteHealthPlatform/internal/executor"
	"SiteHealthPlatform/internal/incident"
	"SiteHealthPlatform/internal/repository"
	apperrors "SiteHealthPlatform/pkg/errors"
	"SiteHealthPlatform/pkg/logger"
	"SiteHealthPlatform/pkg/metrics"
)

// entry запись планировщика для одной конфигурации
// Захват выполняется через увеличение токена под мьютексом планировщика,
// запись с активным захватом не может быть запущена повторно
type entry struct {
	cfg      *domain.CheckConfiguration
	schedule domain.ScheduleEntry
}

// Config конфигурация планировщика
type Config struct {
	TickInterval  time.Duration
	MaxConcurrent int
}

// DefaultConfig возвращает конфигурацию планировщика по умолчанию
func DefaultConfig() Config {
	return Config{
		TickInterval:  1 * time.Second,
		MaxConcurrent: 50,
	}
}

// Scheduler управляет расписанием и запуском проверок
// Гарантирует не более одного выполнения проверки одновременно
// и ограничивает общее число одновременных выполнений
type Scheduler struct {
	configs  repository.ConfigurationRepository
	results  repository.ResultRepository
	executor *executor.Executor
	tracker  *incident.Tracker
	bus      eventbus.Bus
	logger   logger.Logger
	metrics  *metrics.Metrics

	tickInterval time.Duration
	sem          chan struct{}

	mu      sync.Mutex
	entries map[string]*entry

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started bool
	// now переопределяется в тестах
	now func() time.Time
}

// NewScheduler создает планировщик проверок
func NewScheduler(
	configs repository.ConfigurationRepository,
	results repository.ResultRepository,
	exec *executor.Executor,
	tracker *incident.Tracker,
	bus eventbus.Bus,
	log logger.Logger,
	m *metrics.Metrics,
	cfg Config,
) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 1 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 50
	}

	return &Scheduler{
		configs:      configs,
		results:      results,
		executor:     exec,
		tracker:      tracker,
		bus:          bus,
		logger:       log,
		metrics:      m,
		tickInterval: cfg.TickInterval,
		sem:          make(chan struct{}, cfg.MaxConcurrent),
		entries:      make(map[string]*entry),
		now:          time.Now,
	}
}

// Start восстанавливает расписание из хранилища и запускает цикл тиков
// Просроченные проверки становятся немедленно готовыми, без выполнения
// пропущенных запусков задним числом
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return apperrors.New(apperrors.ErrConflict, "scheduler already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.recover(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(loopCtx)

	s.logger.Info("scheduler started",
		logger.Duration("tick_interval", s.tickInterval),
		logger.Int("max_concurrent", cap(s.sem)))

	return nil
}

// Stop останавливает цикл тиков и дожидается завершения запущенных проверок
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.logger.Info("scheduler stopped")
}

// recover загружает включенные конфигурации из хранилища
func (s *Scheduler) recover(ctx context.Context) error {
	configs, err := s.configs.ListEnabled(ctx)
	if err != nil {
		return err
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cfg := range configs {
		nextRun := now
		if cfg.NextRunAt != nil && cfg.NextRunAt.After(now) {
			nextRun = *cfg.NextRunAt
		}

		e := &entry{
			cfg: cfg,
			schedule: domain.ScheduleEntry{
				ConfigurationID: cfg.ID,
				OrganizationID:  cfg.OrganizationID,
				Interval:        cfg.GetIntervalDuration(),
				NextRunAt:       nextRun,
			},
		}
		if cfg.LastRunAt != nil {
			e.schedule.LastRunAt = *cfg.LastRunAt
		}
		s.entries[cfg.ID] = e
	}

	s.updateEntriesGauge()

	s.logger.Info("schedule recovered from store",
		logger.Int("entries", len(s.entries)))

	return nil
}

// Upsert добавляет или обновляет запись расписания
// Новая запись становится немедленно готовой, выключенная удаляется,
// при смене интервала следующий запуск назначается от текущего момента
func (s *Scheduler) Upsert(cfg *domain.CheckConfiguration) {
	if cfg == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !cfg.Enabled {
		delete(s.entries, cfg.ID)
		s.updateEntriesGauge()
		return
	}

	now := s.now()
	existing, ok := s.entries[cfg.ID]
	if !ok {
		s.entries[cfg.ID] = &entry{
			cfg: cfg,
			schedule: domain.ScheduleEntry{
				ConfigurationID: cfg.ID,
				OrganizationID:  cfg.OrganizationID,
				Interval:        cfg.GetIntervalDuration(),
				NextRunAt:       now,
			},
		}
		s.updateEntriesGauge()
		return
	}

	existing.cfg = cfg
	newInterval := cfg.GetIntervalDuration()
	if existing.schedule.Interval != newInterval {
		// Смена интервала отсчитывается от текущего момента, а не от
		// последнего запуска, иначе укорочение интервала делает запись
		// немедленно готовой
		existing.schedule.Interval = newInterval
		existing.schedule.NextRunAt = now.Add(newInterval)
	}
}

// Remove удаляет запись расписания
// Уже запущенное выполнение завершается, но не перепланируется
func (s *Scheduler) Remove(configurationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, configurationID)
	s.updateEntriesGauge()
}

// RunNow помечает проверку для немедленного запуска на ближайшем тике
// Повторные запросы до запуска склеиваются в один
func (s *Scheduler) RunNow(configurationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[configurationID]
	if !ok {
		return apperrors.New(apperrors.ErrNotFound, "check configuration is not scheduled")
	}

	if e.schedule.Claimed || e.schedule.RunRequested {
		return nil
	}

	e.schedule.RunRequested = true
	return nil
}

// Entries возвращает снимок текущего расписания
func (s *Scheduler) Entries() []domain.ScheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ScheduleEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.schedule)
	}
	return out
}

// loop выполняет тики с фиксированным интервалом
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick запускает готовые проверки в пределах лимита одновременности
// Проверка, не получившая слот, остается готовой до следующего тика
func (s *Scheduler) tick(ctx context.Context) {
	start := s.now()

	s.mu.Lock()
	due := make([]*entry, 0)
	for _, e := range s.entries {
		if e.schedule.IsDue(start) {
			due = append(due, e)
		}
	}

	for _, e := range due {
		select {
		case s.sem <- struct{}{}:
		default:
			// Лимит одновременных проверок исчерпан
			s.mu.Unlock()
			s.observeTick(start)
			return
		}

		e.schedule.ExecutionToken++
		e.schedule.Claimed = true
		e.schedule.RunRequested = false

		token := e.schedule.ExecutionToken
		cfg := e.cfg

		s.wg.Add(1)
		go s.run(ctx, cfg, token)
	}
	s.mu.Unlock()

	s.observeTick(start)
}

// run выполняет одну проверку и перепланирует запись
func (s *Scheduler) run(ctx context.Context, cfg *domain.CheckConfiguration, token uint64) {
	defer s.wg.Done()
	defer func() { <-s.sem }()

	// Остановка планировщика не прерывает уже запущенное выполнение,
	// результат дорабатывается и сохраняется, Stop дожидается через wg
	ctx = context.WithoutCancel(ctx)

	startedAt := s.now()
	result := s.executor.Execute(ctx, cfg)

	persisted := true
	if err := s.results.Save(ctx, result); err != nil {
		persisted = false
		if s.metrics != nil {
			s.metrics.PersistFailures.Inc()
		}
		s.logger.Error("failed to persist check result",
			logger.String("configuration_id", cfg.ID),
			logger.Error(err))
	}

	// Машина состояний и события питаются только сохраненными результатами
	if persisted {
		if err := s.tracker.ProcessResult(ctx, cfg, result); err != nil {
			s.logger.Error("failed to process check result",
				logger.String("configuration_id", cfg.ID),
				logger.Error(err))
		}

		event := domain.NewEvent(domain.EventTypeCheckResult, cfg.Scope(), result)
		if err := s.bus.Publish(ctx, event); err != nil {
			s.logger.Error("failed to publish check result event",
				logger.String("configuration_id", cfg.ID),
				logger.Error(err))
		}
	}

	s.release(ctx, cfg, token, startedAt)
}

// release освобождает захват и назначает следующий запуск
func (s *Scheduler) release(ctx context.Context, cfg *domain.CheckConfiguration, token uint64, startedAt time.Time) {
	s.mu.Lock()
	e, ok := s.entries[cfg.ID]
	if !ok {
		// Запись удалена во время выполнения
		s.mu.Unlock()
		return
	}

	if e.schedule.ExecutionToken != token {
		// Захват принадлежит другому выполнению
		if s.metrics != nil {
			s.metrics.StaleClaims.Inc()
		}
		s.logger.Warn("stale execution token on release",
			logger.String("configuration_id", cfg.ID),
			logger.Uint64("token", token))
		s.mu.Unlock()
		return
	}

	e.schedule.Claimed = false
	e.schedule.LastRunAt = startedAt
	e.schedule.NextRunAt = startedAt.Add(e.schedule.Interval)
	nextRunAt := e.schedule.NextRunAt
	s.mu.Unlock()

	if err := s.configs.UpdateRunTimes(ctx, cfg.ID, startedAt, nextRunAt); err != nil {
		s.logger.Error("failed to persist run times",
			logger.String("configuration_id", cfg.ID),
			logger.Error(err))
	}
}

// observeTick записывает метрики тика
func (s *Scheduler) observeTick(start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.TickDuration.Observe(s.now().Sub(start).Seconds())
}

// updateEntriesGauge обновляет метрику числа записей, вызывается под мьютексом
func (s *Scheduler) updateEntriesGauge() {
	if s.metrics == nil {
		return
	}
	s.metrics.ScheduledEntries.Set(float64(len(s.entries)))
}
