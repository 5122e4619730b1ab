package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
	"github.com/vladislavdragonenkov/forwarder/internal/service/lifecycle"
)

const (
	defaultValidateRate  = 5.0
	defaultValidateBurst = 10
	defaultListLimit     = 100
	maxBodyBytes         = 1 << 20
)

// LinkValidator — операции валидатора ссылок, доступные через HTTP.
type LinkValidator interface {
	Validate(ctx context.Context, rawURL, productTypeHint string) (domain.ValidationResult, error)
	Override(ctx context.Context, rawURL string, override domain.AdminOverride) (domain.LinkCacheEntry, error)
	Lookup(ctx context.Context, rawURL string) (domain.LinkCacheEntry, error)
	ListByDomain(ctx context.Context, retailer string) ([]domain.LinkCacheEntry, error)
	PurgeExpired(ctx context.Context) (int, error)
}

// Option настраивает API.
type Option func(*API)

// WithIdempotency включает обработку заголовка Idempotency-Key на создающих запросах.
func WithIdempotency(repo domain.IdempotencyRepository) Option {
	return func(a *API) {
		a.idemRepo = repo
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(a *API) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithValidateRateLimit задаёт лимит запросов проверки ссылок на один IP.
func WithValidateRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		if perSecond > 0 {
			a.validateLimiter = newIPRateLimiter(perSecond, burst)
		}
	}
}

// API — REST-интерфейс витрины и админки.
type API struct {
	engine          *lifecycle.Engine
	validator       LinkValidator
	auth            *AuthManager
	idemRepo        domain.IdempotencyRepository
	logger          *log.Entry
	validateLimiter *ipRateLimiter
}

// New собирает API. validator может быть nil — тогда эндпоинты ссылок отвечают 503.
func New(engine *lifecycle.Engine, validator LinkValidator, auth *AuthManager, options ...Option) *API {
	a := &API{
		engine:          engine,
		validator:       validator,
		auth:            auth,
		logger:          log.WithField("component", "http-api"),
		validateLimiter: newIPRateLimiter(defaultValidateRate, defaultValidateBurst),
	}
	for _, option := range options {
		option(a)
	}
	return a
}

// Handler возвращает chi-роутер со всеми маршрутами.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)

		r.With(a.validateLimiter.middleware).Post("/links/validate", a.handleValidateLink)

		r.Post("/orders", a.handleCreateOrder)
		r.Post("/orders/{orderID}/track", a.handleTrackOrder)
		r.Post("/orders/{orderID}/refund", a.handleCustomerRefund)

		r.Route("/admin", func(r chi.Router) {
			r.Use(a.requireStaff)

			r.Get("/orders", a.handleListOrders)
			r.Get("/orders/{orderID}", a.handleGetOrder)
			r.Post("/orders/{orderID}/status", a.handleTransition)
			r.Put("/orders/{orderID}/quotation", a.handleUpdateQuotation)
			r.Put("/orders/{orderID}/customer", a.handleUpdateCustomer)
			r.Put("/orders/{orderID}/automation", a.handleSetAutomation)
			r.Post("/orders/{orderID}/items/{index}/override", a.handleOverrideItem)
			r.Post("/orders/{orderID}/refund/status", a.handleRefundStatus)
			r.Get("/statistics", a.handleStatistics)

			r.Get("/customers", a.handleFindCustomer)
			r.Get("/customers/{customerID}", a.handleGetCustomer)
			r.Put("/customers/{customerID}/preferences", a.handleUpdatePreferences)

			r.Get("/links", a.handleListLinks)
			r.Get("/links/lookup", a.handleLookupLink)
			r.Post("/links/override", a.handleOverrideLink)
			r.Post("/links/purge", a.handlePurgeLinks)
		})
	})

	return r
}

type actorKey struct{}

func actorFrom(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorKey{}).(Actor)
	return actor
}

func (a *API) requireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.auth == nil {
			writeError(w, http.StatusServiceUnavailable, "auth_disabled", "staff authentication is not configured")
			return
		}
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if len(authorization) < len("bearer ") || !strings.EqualFold(authorization[:len("bearer ")], "bearer ") {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("bearer "):]))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		if actor.Role != RoleAdmin {
			writeError(w, http.StatusForbidden, "forbidden", "forbidden role")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		entry := a.logger.WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(started).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
		if ww.Status() >= http.StatusInternalServerError {
			entry.Warn("http request failed")
			return
		}
		entry.Debug("http request served")
	})
}

// statusForError сопоставляет доменную ошибку HTTP-статусу и коду ответа.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "unavailable"
	case domain.IsNotFound(err), errors.Is(err, domain.ErrLinkNotCached):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrTrackingVerificationFailed):
		return http.StatusForbidden, "verification_failed"
	case domain.IsConflict(err), errors.Is(err, domain.ErrAutomationDisabled):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrLinkCacheUnavailable), errors.Is(err, domain.ErrCustomerRegistryUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	case domain.IsValidationError(err):
		return http.StatusBadRequest, "invalid_request"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (a *API) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	res := a.failure(r, err)
	writeJSON(w, res.status, res.payload)
}
