// Package engine реализует серверную синхронизацию: pull, push с разрешением конфликтов,
// реестр устройств и обслуживание журнала конфликтов.
package engine

import (
	"log/slog"
	"time"

	"github.com/iudanet/gophsync/internal/server/notify"
	"github.com/iudanet/gophsync/internal/server/observability"
	"github.com/iudanet/gophsync/internal/server/storage"
)

// Config лимиты и дедлайны синхронизации
type Config struct {
	PullPageSize    int
	PullMaxPageSize int
	PullTimeout     time.Duration
	PushTimeout     time.Duration
	PushMaxBatch    int
}

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	return Config{
		PullPageSize:    100,
		PullMaxPageSize: 1000,
		PullTimeout:     10 * time.Second,
		PushTimeout:     15 * time.Second,
		PushMaxBatch:    500,
	}
}

// Publisher получает уведомление после успешного коммита push
type Publisher interface {
	Publish(ev notify.Event)
}

// Engine обработчик pull и push
type Engine struct {
	store     storage.Store
	registry  *Registry
	resolver  *Resolver
	quota     Quota
	publisher Publisher
	metrics   *observability.SyncMetrics
	locks     *userLocks
	logger    *slog.Logger
	now       func() time.Time
	cfg       Config
}

// Option настраивает Engine
type Option func(*Engine)

// WithResolver задаёт резолвер конфликтов
func WithResolver(r *Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithQuota задаёт квоту на создание сущностей
func WithQuota(q Quota) Option {
	return func(e *Engine) { e.quota = q }
}

// WithPublisher задаёт получателя уведомлений
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithMetrics задаёт инструменты метрик
func WithMetrics(m *observability.SyncMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock подменяет часы сервера, используется в тестах
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New создаёт Engine
func New(store storage.Store, registry *Registry, cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		registry: registry,
		resolver: NewResolver(nil),
		quota:    EntityLimit{},
		locks:    newUserLocks(),
		logger:   logger,
		now:      time.Now,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry возвращает реестр устройств
func (e *Engine) Registry() *Registry {
	return e.registry
}

func (e *Engine) pageSize(requested int) int {
	size := requested
	if size <= 0 {
		size = e.cfg.PullPageSize
	}
	if size <= 0 {
		size = DefaultConfig().PullPageSize
	}
	if e.cfg.PullMaxPageSize > 0 && size > e.cfg.PullMaxPageSize {
		size = e.cfg.PullMaxPageSize
	}
	return size
}
