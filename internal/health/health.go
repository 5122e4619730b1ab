package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status представляет статус компонента
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

const defaultCheckTimeout = 2 * time.Second

// Check — результат проверки одного компонента.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Critical   bool   `json:"critical"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response представляет ответ health check
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	Commit        string           `json:"commit,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет зависимость в пределах ctx.
type Checker interface {
	Check(ctx context.Context) Check
}

// Option настраивает Handler.
type Option func(*Handler)

// WithCommit добавляет commit сборки в ответ /healthz.
func WithCommit(commit string) Option {
	return func(h *Handler) {
		h.commit = commit
	}
}

// WithCheckTimeout ограничивает время одной проверки.
func WithCheckTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// Handler обрабатывает health check запросы
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	version   string
	commit    string
	timeout   time.Duration
	now       func() time.Time
	startTime time.Time
}

// NewHandler создаёт новый health handler
func NewHandler(version string, options ...Option) *Handler {
	h := &Handler{
		checkers: make(map[string]Checker),
		version:  version,
		timeout:  defaultCheckTimeout,
		now:      time.Now,
	}
	for _, option := range options {
		option(h)
	}
	h.startTime = h.now()
	return h
}

// RegisterChecker регистрирует проверку компонента
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Evaluate выполняет все проверки параллельно и сводит их в общий статус.
// Упавшая некритичная проверка даёт degraded, критичная — unhealthy.
func (h *Handler) Evaluate(ctx context.Context) Response {
	h.mu.RLock()
	names := make([]string, 0, len(h.checkers))
	checkers := make(map[string]Checker, len(h.checkers))
	for k, v := range h.checkers {
		names = append(names, k)
		checkers[k] = v
	}
	h.mu.RUnlock()
	sort.Strings(names)

	results := make([]Check, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, checker Checker) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			results[i] = checker.Check(checkCtx)
		}(i, checkers[name])
	}
	wg.Wait()

	checks := make(map[string]Check, len(names))
	overallStatus := StatusHealthy
	for i, name := range names {
		check := results[i]
		checks[name] = check

		switch {
		case check.Status == StatusHealthy:
		case check.Critical && check.Status == StatusUnhealthy:
			overallStatus = StatusUnhealthy
		case overallStatus == StatusHealthy:
			overallStatus = StatusDegraded
		}
	}

	return Response{
		Status:        overallStatus,
		Timestamp:     h.now(),
		Checks:        checks,
		Version:       h.version,
		Commit:        h.commit,
		UptimeSeconds: int64(h.now().Sub(h.startTime).Seconds()),
	}
}

// ServeHTTP обрабатывает HTTP запрос
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.Evaluate(r.Context())

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// LivenessHandler отвечает 200, пока процесс жив.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler отвечает 503, пока недоступна хотя бы одна критичная зависимость.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if h.Evaluate(r.Context()).Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// SimpleChecker простая проверка с функцией
type SimpleChecker struct {
	name     string
	critical bool
	checkFn  func(context.Context) error
}

// NewSimpleChecker создаёт критичную проверку: её отказ делает сервис unhealthy.
func NewSimpleChecker(name string, checkFn func(context.Context) error) *SimpleChecker {
	return &SimpleChecker{
		name:     name,
		critical: true,
		checkFn:  checkFn,
	}
}

// NewOptionalChecker создаёт некритичную проверку: при отказе сервис работает в degraded.
func NewOptionalChecker(name string, checkFn func(context.Context) error) *SimpleChecker {
	return &SimpleChecker{
		name:    name,
		checkFn: checkFn,
	}
}

// Check выполняет проверку
func (c *SimpleChecker) Check(ctx context.Context) Check {
	start := time.Now()
	err := c.checkFn(ctx)
	duration := time.Since(start)

	if err != nil {
		return Check{
			Name:       c.name,
			Status:     StatusUnhealthy,
			Critical:   c.critical,
			Message:    err.Error(),
			DurationMs: duration.Milliseconds(),
		}
	}

	return Check{
		Name:       c.name,
		Status:     StatusHealthy,
		Critical:   c.critical,
		DurationMs: duration.Milliseconds(),
	}
}
