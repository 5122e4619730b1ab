package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

type idempotencyRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewIdempotencyRepository создаёт PostgreSQL-реестр ответов по (операция, ключ).
// Повтор запроса после рестарта отдаёт сохранённый ответ.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyRepository{db: store.DB(), now: utcNow}
}

// CreateProcessing занимает ключ. Просроченную запись, которую ещё не вычистил
// cleanup worker, перезаписывает тем же запросом.
func (r *idempotencyRepository) CreateProcessing(key domain.IdempotencyKey, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, err := key.Normalize()
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var claimed string
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO idempotency_keys (operation, key, request_hash, status, ttl_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)
		ON CONFLICT (operation, key) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
		    response_body = NULL,
		    response_code = NULL,
		    status = EXCLUDED.status,
		    ttl_at = EXCLUDED.ttl_at,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at
		WHERE idempotency_keys.ttl_at <= EXCLUDED.created_at
		RETURNING key
	`, key.Operation, key.Key, requestHash, string(domain.IdempotencyStatusProcessing), ttlAt, now).Scan(&claimed)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		existing, getErr := r.Get(key)
		if getErr != nil {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
		}
		if existing.RequestHash != requestHash {
			return existing, domain.ErrIdempotencyHashMismatch
		}
		return existing, domain.ErrIdempotencyKeyAlreadyExists
	case err != nil:
		return domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key %s: %w", key, err)
	}

	return domain.IdempotencyRecord{
		Operation:   key.Operation,
		Key:         key.Key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (r *idempotencyRepository) Get(key domain.IdempotencyKey) (domain.IdempotencyRecord, error) {
	key, err := key.Normalize()
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		record       domain.IdempotencyRecord
		status       string
		responseCode sql.NullInt64
	)
	err = r.db.QueryRowContext(ctx, `
		SELECT operation, key, request_hash, response_body, response_code, status, ttl_at, created_at, updated_at
		FROM idempotency_keys
		WHERE operation = $1 AND key = $2
	`, key.Operation, key.Key).Scan(
		&record.Operation, &record.Key, &record.RequestHash, &record.ResponseBody,
		&responseCode, &status, &record.TTLAt, &record.CreatedAt, &record.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency key %s: %w", key, err)
	}

	record.Status = domain.IdempotencyStatus(status)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("idempotency key %s: unknown status %q", key, status)
	}
	record.ResponseCode = int(responseCode.Int64)
	return record, nil
}

func (r *idempotencyRepository) MarkDone(key domain.IdempotencyKey, responseBody []byte, responseCode int) error {
	return r.finish(key, domain.IdempotencyStatusDone, responseBody, responseCode)
}

func (r *idempotencyRepository) MarkFailed(key domain.IdempotencyKey, responseBody []byte, responseCode int) error {
	return r.finish(key, domain.IdempotencyStatusFailed, responseBody, responseCode)
}

// DeleteExpired удаляет записи с ttl_at <= before, самые старые первыми.
func (r *idempotencyRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `DELETE FROM idempotency_keys WHERE ttl_at <= $1`
	args := []any{before}
	if limit > 0 {
		query = `
			DELETE FROM idempotency_keys
			WHERE (operation, key) IN (
				SELECT operation, key FROM idempotency_keys
				WHERE ttl_at <= $1
				ORDER BY ttl_at
				LIMIT $2
			)`
		args = append(args, limit)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("idempotency rows affected: %w", err)
	}
	return int(affected), nil
}

func (r *idempotencyRepository) finish(key domain.IdempotencyKey, status domain.IdempotencyStatus, responseBody []byte, responseCode int) error {
	key, err := key.Normalize()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET response_body = $3, response_code = $4, status = $5, updated_at = $6
		WHERE operation = $1 AND key = $2
	`, key.Operation, key.Key, responseBody, responseCode, string(status), r.now())
	if err != nil {
		return fmt.Errorf("finish idempotency key %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("idempotency rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
