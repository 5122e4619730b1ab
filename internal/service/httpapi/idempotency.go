package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
)

const (
	idempotencyKeyHeader      = "Idempotency-Key"
	idempotencyReplayedHeader = "Idempotent-Replayed"
	idempotencyTTL            = 24 * time.Hour
)

// result — ответ обработчика до записи в ResponseWriter, чтобы его можно было закешировать.
type result struct {
	status  int
	payload any
}

func (a *API) failure(r *http.Request, err error) result {
	status, code := statusForError(err)
	if status == http.StatusInternalServerError {
		a.logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		return result{status: status, payload: errorBody{Error: code, Message: "internal server error"}}
	}
	return result{status: status, payload: errorBody{Error: code, Message: err.Error()}}
}

// idempotent выполняет handle не более одного раза на пару (scope, Idempotency-Key).
// Без заголовка запрос обрабатывается как обычно.
func (a *API) idempotent(w http.ResponseWriter, r *http.Request, scope string, body []byte, handle func() result) {
	header := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	if a.idemRepo == nil || header == "" {
		res := handle()
		writeJSON(w, res.status, res.payload)
		return
	}

	key := domain.ScopedKey(scope, header)
	record, err := a.idemRepo.CreateProcessing(key, requestHash(body), time.Now().UTC().Add(idempotencyTTL))
	if err != nil {
		a.replay(w, err, record)
		return
	}

	res := handle()
	data, err := json.Marshal(res.payload)
	if err != nil {
		a.logger.WithError(err).WithField("idempotency_key", key.String()).Error("failed to encode response")
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	store := a.idemRepo.MarkDone
	if res.status >= http.StatusBadRequest {
		store = a.idemRepo.MarkFailed
	}
	if err := store(key, data, res.status); err != nil {
		a.logger.WithError(err).WithField("idempotency_key", key.String()).Warn("failed to store idempotent response")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.status)
	_, _ = w.Write(append(data, '\n'))
}

func (a *API) replay(w http.ResponseWriter, createErr error, record domain.IdempotencyRecord) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		writeError(w, http.StatusUnprocessableEntity, "idempotency_mismatch", "idempotency key is already used with different request payload")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		if record.Status == domain.IdempotencyStatusProcessing {
			writeError(w, http.StatusConflict, "request_in_progress", "request with the same idempotency key is already processing")
			return
		}
		if !record.Replayable() {
			writeError(w, http.StatusInternalServerError, "internal", "idempotency cache is empty")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(idempotencyReplayedHeader, "true")
		w.WriteHeader(record.ResponseCode)
		_, _ = w.Write(append(record.ResponseBody, '\n'))
	default:
		a.logger.WithError(createErr).WithFields(log.Fields{
			"operation":       record.Operation,
			"idempotency_key": record.Key,
		}).Warn("failed to create idempotency record")
		writeError(w, http.StatusInternalServerError, "internal", "failed to initialize idempotency request")
	}
}

func requestHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
