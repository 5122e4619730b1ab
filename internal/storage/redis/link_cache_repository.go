package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
)

const (
	opTimeout     = 3 * time.Second
	defaultPrefix = "forwarder:link:"
)

// storedEntry — результат проверки без списка решений: решения лежат в отдельном Redis list.
type storedEntry struct {
	URL         string                  `json:"url"`
	Domain      string                  `json:"domain"`
	Result      domain.ValidationResult `json:"result"`
	LastChecked time.Time               `json:"last_checked"`
}

// LinkCacheRepository хранит проверки ссылок в Redis.
//
// Ключи (prefix по умолчанию forwarder:link:):
//
//	<prefix>entry:<url>      JSON результата, без TTL
//	<prefix>overrides:<url>  list решений администраторов в порядке добавления
//	<prefix>domain:<host>    set URL домена
//	<prefix>checked          zset URL со score = last_checked (unix ms)
//
// Свежесть проверяет валидатор, поэтому записи не истекают сами и аудит решений не теряется.
type LinkCacheRepository struct {
	client *goredis.Client
	prefix string
}

// Option настраивает LinkCacheRepository.
type Option func(*LinkCacheRepository)

// WithKeyPrefix задаёт префикс ключей, например для изоляции тестов.
func WithKeyPrefix(prefix string) Option {
	return func(r *LinkCacheRepository) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// NewLinkCacheRepository создаёт Redis-реализацию domain.LinkCacheRepository.
func NewLinkCacheRepository(client *goredis.Client, options ...Option) *LinkCacheRepository {
	r := &LinkCacheRepository{client: client, prefix: defaultPrefix}
	for _, option := range options {
		option(r)
	}
	return r
}

// Ping проверяет доступность Redis.
func (r *LinkCacheRepository) Ping(ctx context.Context) error {
	if r == nil || r.client == nil {
		return errors.New("redis link cache is not initialized")
	}
	return r.client.Ping(ctx).Err()
}

func (r *LinkCacheRepository) Get(url string) (domain.LinkCacheEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return r.load(ctx, url)
}

// Put сохраняет результат и индексы; список решений не трогается.
func (r *LinkCacheRepository) Put(entry domain.LinkCacheEntry) (domain.LinkCacheEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	payload, err := json.Marshal(storedEntry{
		URL:         entry.URL,
		Domain:      entry.Domain,
		Result:      entry.Result,
		LastChecked: entry.LastChecked.UTC(),
	})
	if err != nil {
		return domain.LinkCacheEntry{}, fmt.Errorf("encode link entry: %w", err)
	}

	previousRaw, err := r.client.Get(ctx, r.entryKey(entry.URL)).Bytes()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return domain.LinkCacheEntry{}, fmt.Errorf("read link entry: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if len(previousRaw) > 0 {
			var previous storedEntry
			if json.Unmarshal(previousRaw, &previous) == nil && previous.Domain != entry.Domain {
				pipe.SRem(ctx, r.domainKey(previous.Domain), entry.URL)
			}
		}
		pipe.Set(ctx, r.entryKey(entry.URL), payload, 0)
		pipe.SAdd(ctx, r.domainKey(entry.Domain), entry.URL)
		pipe.ZAdd(ctx, r.checkedKey(), goredis.Z{
			Score:  float64(entry.LastChecked.UnixMilli()),
			Member: entry.URL,
		})
		return nil
	})
	if err != nil {
		return domain.LinkCacheEntry{}, fmt.Errorf("store link entry: %w", err)
	}

	return r.load(ctx, entry.URL)
}

// AppendOverride добавляет решение под WATCH записи, чтобы не писать аудит для удалённой ссылки.
func (r *LinkCacheRepository) AppendOverride(url string, override domain.AdminOverride) (domain.LinkCacheEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	payload, err := json.Marshal(override)
	if err != nil {
		return domain.LinkCacheEntry{}, fmt.Errorf("encode admin override: %w", err)
	}

	entryKey := r.entryKey(url)
	err = r.client.Watch(ctx, func(tx *goredis.Tx) error {
		exists, err := tx.Exists(ctx, entryKey).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return domain.ErrLinkNotCached
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.RPush(ctx, r.overridesKey(url), payload)
			return nil
		})
		return err
	}, entryKey)
	if err != nil {
		if errors.Is(err, domain.ErrLinkNotCached) {
			return domain.LinkCacheEntry{}, err
		}
		return domain.LinkCacheEntry{}, fmt.Errorf("append admin override: %w", err)
	}

	return r.load(ctx, url)
}

func (r *LinkCacheRepository) ListByDomain(domainName string) ([]domain.LinkCacheEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	urls, err := r.client.SMembers(ctx, r.domainKey(domainName)).Result()
	if err != nil {
		return nil, fmt.Errorf("list domain links: %w", err)
	}
	sort.Strings(urls)

	entries := make([]domain.LinkCacheEntry, 0, len(urls))
	for _, url := range urls {
		entry, err := r.load(ctx, url)
		if errors.Is(err, domain.ErrLinkNotCached) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// DeleteExpired удаляет до limit самых старых записей с LastChecked <= before вместе с их аудитом.
func (r *LinkCacheRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(before.UnixMilli(), 10),
	}
	if limit > 0 {
		query.Count = int64(limit)
	}
	urls, err := r.client.ZRangeByScore(ctx, r.checkedKey(), query).Result()
	if err != nil {
		return 0, fmt.Errorf("find expired links: %w", err)
	}
	if len(urls) == 0 {
		return 0, nil
	}

	domains := make(map[string]string, len(urls))
	for _, url := range urls {
		raw, err := r.client.Get(ctx, r.entryKey(url)).Bytes()
		if err != nil {
			continue
		}
		var stored storedEntry
		if json.Unmarshal(raw, &stored) == nil {
			domains[url] = stored.Domain
		}
	}

	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, url := range urls {
			pipe.Del(ctx, r.entryKey(url), r.overridesKey(url))
			pipe.ZRem(ctx, r.checkedKey(), url)
			if host, ok := domains[url]; ok {
				pipe.SRem(ctx, r.domainKey(host), url)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete expired links: %w", err)
	}
	return len(urls), nil
}

func (r *LinkCacheRepository) load(ctx context.Context, url string) (domain.LinkCacheEntry, error) {
	raw, err := r.client.Get(ctx, r.entryKey(url)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.LinkCacheEntry{}, domain.ErrLinkNotCached
	}
	if err != nil {
		return domain.LinkCacheEntry{}, fmt.Errorf("read link entry: %w", err)
	}

	var stored storedEntry
	if err := json.Unmarshal(raw, &stored); err != nil {
		return domain.LinkCacheEntry{}, fmt.Errorf("decode link entry %s: %w", url, err)
	}

	rawOverrides, err := r.client.LRange(ctx, r.overridesKey(url), 0, -1).Result()
	if err != nil {
		return domain.LinkCacheEntry{}, fmt.Errorf("read admin overrides: %w", err)
	}
	overrides := make([]domain.AdminOverride, 0, len(rawOverrides))
	for _, item := range rawOverrides {
		var override domain.AdminOverride
		if err := json.Unmarshal([]byte(item), &override); err != nil {
			return domain.LinkCacheEntry{}, fmt.Errorf("decode admin override for %s: %w", url, err)
		}
		overrides = append(overrides, override)
	}

	return domain.LinkCacheEntry{
		URL:            stored.URL,
		Domain:         stored.Domain,
		Result:         stored.Result,
		AdminOverrides: overrides,
		LastChecked:    stored.LastChecked,
	}, nil
}

func (r *LinkCacheRepository) entryKey(url string) string     { return r.prefix + "entry:" + url }
func (r *LinkCacheRepository) overridesKey(url string) string { return r.prefix + "overrides:" + url }
func (r *LinkCacheRepository) domainKey(host string) string   { return r.prefix + "domain:" + host }
func (r *LinkCacheRepository) checkedKey() string             { return r.prefix + "checked" }

var _ domain.LinkCacheRepository = (*LinkCacheRepository)(nil)
