package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
)

type linkCacheRepository struct {
	db *sql.DB
}

// NewLinkCacheRepository создаёт PostgreSQL-реализацию кеша проверок ссылок.
// Используется, когда Redis не настроен, но нужен общий кеш для нескольких реплик.
func NewLinkCacheRepository(store *Store) domain.LinkCacheRepository {
	return &linkCacheRepository{db: store.DB()}
}

func (r *linkCacheRepository) Get(url string) (domain.LinkCacheEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	entry, err := r.load(ctx, url)
	if err != nil {
		return domain.LinkCacheEntry{}, err
	}
	return entry, nil
}

func (r *linkCacheRepository) Put(entry domain.LinkCacheEntry) (domain.LinkCacheEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	result, err := json.Marshal(entry.Result)
	if err != nil {
		return domain.LinkCacheEntry{}, fmt.Errorf("encode validation result: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO link_validations (url, domain, result, last_checked)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (url) DO UPDATE
		SET domain = EXCLUDED.domain,
		    result = EXCLUDED.result,
		    last_checked = EXCLUDED.last_checked
	`, entry.URL, entry.Domain, result, entry.LastChecked); err != nil {
		return domain.LinkCacheEntry{}, fmt.Errorf("upsert link validation: %w", err)
	}

	return r.load(ctx, entry.URL)
}

func (r *linkCacheRepository) AppendOverride(url string, override domain.AdminOverride) (domain.LinkCacheEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO link_admin_overrides (url, admin_id, action, notes, created_at)
		SELECT url, $2, $3, $4, $5
		FROM link_validations
		WHERE url = $1
	`, url, override.AdminID, override.Action, override.Notes, override.Timestamp)
	if err != nil {
		return domain.LinkCacheEntry{}, fmt.Errorf("insert link override: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.LinkCacheEntry{}, fmt.Errorf("link override rows affected: %w", err)
	}
	if affected == 0 {
		return domain.LinkCacheEntry{}, domain.ErrLinkNotCached
	}

	return r.load(ctx, url)
}

func (r *linkCacheRepository) ListByDomain(domainName string) ([]domain.LinkCacheEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT url FROM link_validations WHERE domain = $1 ORDER BY url
	`, domainName)
	if err != nil {
		return nil, fmt.Errorf("list link validations: %w", err)
	}
	urls := make([]string, 0)
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan link url: %w", err)
		}
		urls = append(urls, url)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate link urls: %w", err)
	}

	entries := make([]domain.LinkCacheEntry, 0, len(urls))
	for _, url := range urls {
		entry, err := r.load(ctx, url)
		if errors.Is(err, domain.ErrLinkNotCached) {
			// Запись могла быть удалена очисткой между запросами.
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *linkCacheRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		res sql.Result
		err error
	)
	if limit > 0 {
		res, err = r.db.ExecContext(ctx, `
			DELETE FROM link_validations
			WHERE url IN (
				SELECT url FROM link_validations
				WHERE last_checked <= $1
				ORDER BY last_checked ASC
				LIMIT $2
			)
		`, before, limit)
	} else {
		res, err = r.db.ExecContext(ctx, `DELETE FROM link_validations WHERE last_checked <= $1`, before)
	}
	if err != nil {
		return 0, fmt.Errorf("delete expired link validations: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("link validations rows affected: %w", err)
	}
	return int(affected), nil
}

func (r *linkCacheRepository) load(ctx context.Context, url string) (domain.LinkCacheEntry, error) {
	var (
		entry  domain.LinkCacheEntry
		result []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT url, domain, result, last_checked
		FROM link_validations
		WHERE url = $1
	`, url).Scan(&entry.URL, &entry.Domain, &result, &entry.LastChecked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.LinkCacheEntry{}, domain.ErrLinkNotCached
		}
		return domain.LinkCacheEntry{}, fmt.Errorf("select link validation: %w", err)
	}
	entry.LastChecked = entry.LastChecked.UTC()
	if err := json.Unmarshal(result, &entry.Result); err != nil {
		return domain.LinkCacheEntry{}, fmt.Errorf("decode validation result for %s: %w", url, err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT admin_id, action, notes, created_at
		FROM link_admin_overrides
		WHERE url = $1
		ORDER BY id ASC
	`, url)
	if err != nil {
		return domain.LinkCacheEntry{}, fmt.Errorf("load link overrides: %w", err)
	}
	defer rows.Close()

	entry.AdminOverrides = make([]domain.AdminOverride, 0)
	for rows.Next() {
		var override domain.AdminOverride
		if err := rows.Scan(&override.AdminID, &override.Action, &override.Notes, &override.Timestamp); err != nil {
			return domain.LinkCacheEntry{}, fmt.Errorf("scan link override: %w", err)
		}
		override.Timestamp = override.Timestamp.UTC()
		entry.AdminOverrides = append(entry.AdminOverrides, override)
	}
	if err := rows.Err(); err != nil {
		return domain.LinkCacheEntry{}, fmt.Errorf("iterate link overrides: %w", err)
	}
	return entry, nil
}

var _ domain.LinkCacheRepository = (*linkCacheRepository)(nil)
