package plugin

import (
	"fmt"
	"sort"
	"sync"

	apperrors "SiteHealthPlatform/pkg/errors"
)

// Registry хранит зарегистрированные плагины проверок
// Все методы потокобезопасны
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Check
}

// NewRegistry создает пустой реестр плагинов
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]Check),
	}
}

// Register регистрирует плагин
// Повторная регистрация того же типа возвращает ошибку
func (r *Registry) Register(check Check) error {
	if check == nil {
		return apperrors.New(apperrors.ErrValidation, "plugin must not be nil")
	}

	checkType := check.Type()
	if checkType == "" {
		return apperrors.New(apperrors.ErrValidation, "plugin type must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[checkType]; exists {
		return apperrors.New(apperrors.ErrConflict,
			fmt.Sprintf("plugin already registered: %s", checkType))
	}

	r.plugins[checkType] = check
	return nil
}

// Resolve возвращает плагин по типу проверки
func (r *Registry) Resolve(checkType string) (Check, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	check, ok := r.plugins[checkType]
	if !ok {
		return nil, apperrors.New(apperrors.ErrNotFound,
			fmt.Sprintf("unknown check type: %s", checkType))
	}

	return check, nil
}

// Has проверяет наличие плагина для типа проверки
func (r *Registry) Has(checkType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.plugins[checkType]
	return ok
}

// List возвращает дескрипторы всех плагинов, отсортированные по типу
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]Descriptor, 0, len(r.plugins))
	for _, check := range r.plugins {
		descriptors = append(descriptors, Descriptor{
			Type:         check.Type(),
			DisplayName:  check.DisplayName(),
			Description:  check.Description(),
			ConfigSchema: check.ConfigSchema(),
		})
	}

	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Type < descriptors[j].Type
	})

	return descriptors
}
