package validation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
	"github.com/vladislavdragonenkov/forwarder/internal/metrics"
)

const (
	// DefaultFreshness — окно, в течение которого закешированный результат считается актуальным.
	DefaultFreshness = 24 * time.Hour

	defaultPurgeBatchSize = 500

	errMsgInvalidURL          = "Invalid URL format"
	errMsgUnsupportedRetailer = "This retailer is not currently supported"
)

// Option настраивает Validator.
type Option func(*Validator)

// WithCache подключает хранилище результатов проверки.
func WithCache(cache domain.LinkCacheRepository) Option {
	return func(v *Validator) { v.cache = cache }
}

// WithPolicy заменяет встроенные списки ритейлеров.
func WithPolicy(policy RetailerPolicy) Option {
	return func(v *Validator) { v.policy = policy }
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.LifecycleMetrics) Option {
	return func(v *Validator) { v.metrics = m }
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(v *Validator) { v.logger = logger }
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// WithFreshness меняет окно свежести кеша.
func WithFreshness(window time.Duration) Option {
	return func(v *Validator) { v.freshness = window }
}

// Validator решает, можно ли принять ссылку на товар автоматически.
type Validator struct {
	cache     domain.LinkCacheRepository
	policy    RetailerPolicy
	metrics   *metrics.LifecycleMetrics
	logger    *log.Entry
	now       func() time.Time
	freshness time.Duration
}

// NewValidator создаёт валидатор. Без кеша каждая проверка выполняется заново.
func NewValidator(options ...Option) *Validator {
	v := &Validator{
		policy:    DefaultRetailerPolicy(),
		now:       func() time.Time { return time.Now().UTC() },
		freshness: DefaultFreshness,
	}
	for _, option := range options {
		option(v)
	}
	if v.logger == nil {
		v.logger = log.WithField("component", "link-validator")
	}
	if v.freshness <= 0 {
		v.freshness = DefaultFreshness
	}
	return v
}

// Validate классифицирует ссылку. Некорректный URL — это результат с IsValid=false, а не ошибка;
// ошибка возвращается только при отмене ctx.
func (v *Validator) Validate(ctx context.Context, rawURL, productTypeHint string) (domain.ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ValidationResult{}, err
	}

	link, ok := parseLink(rawURL)
	if !ok {
		v.metrics.RecordValidation(string(domain.RiskLevelRestricted), false)
		return invalidResult(), nil
	}

	key := NormalizeURL(link)
	host := extractDomain(link)

	var overrides []domain.AdminOverride
	if v.cache != nil {
		entry, err := v.cache.Get(key)
		switch {
		case err == nil && entry.Fresh(v.now(), v.freshness):
			v.metrics.RecordCacheLookup("hit")
			return applyProductType(effectiveResult(entry), productTypeHint), nil
		case err == nil:
			v.metrics.RecordCacheLookup("stale")
			overrides = entry.AdminOverrides
		case errors.Is(err, domain.ErrLinkNotCached):
			v.metrics.RecordCacheLookup("miss")
		default:
			v.metrics.RecordCacheLookup("error")
			v.logger.WithError(err).WithField("url", key).Warn("link cache read failed, classifying without cache")
		}
	}

	result := v.classify(host)

	if v.cache != nil {
		stored, err := v.cache.Put(domain.LinkCacheEntry{
			URL:            key,
			Domain:         host,
			Result:         result,
			AdminOverrides: overrides,
			LastChecked:    v.now(),
		})
		if err != nil {
			v.logger.WithError(err).WithField("url", key).Warn("failed to store link validation")
		} else {
			result = effectiveResult(stored)
		}
	}

	return applyProductType(result, productTypeHint), nil
}

// Override записывает ручное решение по ссылке. Предыдущие решения не перезаписываются.
func (v *Validator) Override(ctx context.Context, rawURL string, override domain.AdminOverride) (domain.LinkCacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return domain.LinkCacheEntry{}, err
	}
	if v.cache == nil {
		return domain.LinkCacheEntry{}, domain.ErrLinkCacheUnavailable
	}

	link, ok := parseLink(rawURL)
	if !ok {
		return domain.LinkCacheEntry{}, domain.ErrInvalidProductLink
	}
	key := NormalizeURL(link)
	if override.Timestamp.IsZero() {
		override.Timestamp = v.now()
	}

	entry, err := v.cache.AppendOverride(key, override)
	if errors.Is(err, domain.ErrLinkNotCached) {
		// Ссылку ещё не проверяли: сначала кладём свежий результат, затем решение.
		host := extractDomain(link)
		if _, putErr := v.cache.Put(domain.LinkCacheEntry{
			URL:         key,
			Domain:      host,
			Result:      v.classify(host),
			LastChecked: v.now(),
		}); putErr != nil {
			return domain.LinkCacheEntry{}, fmt.Errorf("store link validation: %w", putErr)
		}
		entry, err = v.cache.AppendOverride(key, override)
	}
	if err != nil {
		return domain.LinkCacheEntry{}, fmt.Errorf("append link override: %w", err)
	}

	v.metrics.RecordOverride()
	v.logger.WithFields(log.Fields{
		"url":      key,
		"admin_id": override.AdminID,
		"action":   override.Action,
	}).Info("link override recorded")

	entry.Result = effectiveResult(entry)
	return entry, nil
}

// Lookup возвращает запись кеша по ссылке вместе с историей ручных решений.
func (v *Validator) Lookup(_ context.Context, rawURL string) (domain.LinkCacheEntry, error) {
	if v.cache == nil {
		return domain.LinkCacheEntry{}, domain.ErrLinkNotCached
	}
	link, ok := parseLink(rawURL)
	if !ok {
		return domain.LinkCacheEntry{}, domain.ErrInvalidProductLink
	}
	entry, err := v.cache.Get(NormalizeURL(link))
	if err != nil {
		return domain.LinkCacheEntry{}, err
	}
	entry.Result = effectiveResult(entry)
	return entry, nil
}

// ListByDomain возвращает все проверенные ссылки ритейлера.
func (v *Validator) ListByDomain(_ context.Context, retailer string) ([]domain.LinkCacheEntry, error) {
	if v.cache == nil {
		return nil, nil
	}
	entries, err := v.cache.ListByDomain(normalizeHost(retailer))
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Result = effectiveResult(entries[i])
	}
	return entries, nil
}

// PurgeExpired удаляет записи старше окна свежести порциями.
// Чтение и так игнорирует устаревшие записи; очистка только освобождает место.
func (v *Validator) PurgeExpired(ctx context.Context) (int, error) {
	if v.cache == nil {
		return 0, nil
	}

	before := v.now().Add(-v.freshness)
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		deleted, err := v.cache.DeleteExpired(before, defaultPurgeBatchSize)
		if err != nil {
			return total, err
		}
		total += deleted
		if deleted < defaultPurgeBatchSize {
			break
		}
	}

	if total > 0 {
		v.logger.WithField("deleted", total).Info("expired link validations purged")
	}
	return total, nil
}

func (v *Validator) classify(host string) domain.ValidationResult {
	if !v.policy.IsSupported(host) {
		v.metrics.RecordValidation(string(domain.RiskLevelRestricted), false)
		return domain.ValidationResult{
			IsValid:              true,
			IsSupported:          false,
			RiskLevel:            domain.RiskLevelRestricted,
			ValidationMethod:     domain.ValidationMethodAuto,
			RequiresManualReview: true,
			ErrorMessage:         errMsgUnsupportedRetailer,
		}
	}

	risk := domain.RiskLevelMedium
	switch {
	case v.policy.isHighRisk(host):
		risk = domain.RiskLevelHigh
	case v.policy.isLowRisk(host):
		risk = domain.RiskLevelLow
	}
	v.metrics.RecordValidation(string(risk), true)

	// Карточка товара пока заглушка: парсинг страниц ритейлеров не подключён.
	return domain.ValidationResult{
		IsValid:              true,
		IsSupported:          true,
		RiskLevel:            risk,
		ValidationMethod:     domain.ValidationMethodAuto,
		RequiresManualReview: risk == domain.RiskLevelHigh,
		StockStatus:          "in_stock",
		ProductInfo: &domain.ProductInfo{
			Title:        "Product from " + host,
			Currency:     domain.DefaultCurrency,
			Availability: "Available",
		},
	}
}

// applyProductType учитывает подсказку о категории товара. Высокий риск домена важнее категории.
func applyProductType(result domain.ValidationResult, productType string) domain.ValidationResult {
	if !result.IsSupported || result.RiskLevel == domain.RiskLevelHigh || !isFraudProne(productType) {
		return result
	}
	result.RiskLevel = domain.RiskLevelMedium
	return result
}

func effectiveResult(entry domain.LinkCacheEntry) domain.ValidationResult {
	result := entry.Result
	if len(entry.AdminOverrides) > 0 {
		result.ValidationMethod = domain.ValidationMethodOverride
	}
	return result
}

func invalidResult() domain.ValidationResult {
	return domain.ValidationResult{
		IsValid:              false,
		IsSupported:          false,
		RiskLevel:            domain.RiskLevelRestricted,
		ValidationMethod:     domain.ValidationMethodAuto,
		RequiresManualReview: false,
		ErrorMessage:         errMsgInvalidURL,
	}
}

func parseLink(raw string) (*url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	if u.Hostname() == "" {
		return nil, false
	}
	return u, true
}

func extractDomain(u *url.URL) string {
	return normalizeHost(u.Hostname())
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	return strings.TrimPrefix(host, "www.")
}

// NormalizeURL строит ключ кеша: схема и хост в нижнем регистре, без www., фрагмента и завершающего слэша.
func NormalizeURL(u *url.URL) string {
	host := extractDomain(u)
	if port := u.Port(); port != "" {
		host += ":" + port
	}
	path := strings.TrimRight(u.EscapedPath(), "/")

	var b strings.Builder
	b.WriteString(strings.ToLower(u.Scheme))
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(path)
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	return b.String()
}

// NormalizeLink — вариант NormalizeURL для строки; второе значение false для некорректных ссылок.
func NormalizeLink(raw string) (string, bool) {
	u, ok := parseLink(raw)
	if !ok {
		return "", false
	}
	return NormalizeURL(u), true
}
