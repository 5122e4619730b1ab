package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
)

type linkCacheRepositoryInMemory struct {
	mu      sync.RWMutex
	entries map[string]domain.LinkCacheEntry
}

// NewLinkCacheRepository создаёт in-memory кеш результатов проверки ссылок.
func NewLinkCacheRepository() domain.LinkCacheRepository {
	return &linkCacheRepositoryInMemory{
		entries: make(map[string]domain.LinkCacheEntry),
	}
}

func (r *linkCacheRepositoryInMemory) Get(url string) (domain.LinkCacheEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[url]
	if !ok {
		return domain.LinkCacheEntry{}, domain.ErrLinkNotCached
	}
	return cloneLinkCacheEntry(entry), nil
}

// Put перезаписывает результат проверки; накопленные решения администраторов сохраняются.
func (r *linkCacheRepositoryInMemory) Put(entry domain.LinkCacheEntry) (domain.LinkCacheEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := cloneLinkCacheEntry(entry)
	if existing, ok := r.entries[entry.URL]; ok {
		next.AdminOverrides = append([]domain.AdminOverride(nil), existing.AdminOverrides...)
	}
	r.entries[entry.URL] = next
	return cloneLinkCacheEntry(next), nil
}

func (r *linkCacheRepositoryInMemory) AppendOverride(url string, override domain.AdminOverride) (domain.LinkCacheEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[url]
	if !ok {
		return domain.LinkCacheEntry{}, domain.ErrLinkNotCached
	}
	entry.AdminOverrides = append(append([]domain.AdminOverride(nil), entry.AdminOverrides...), override)
	r.entries[url] = entry
	return cloneLinkCacheEntry(entry), nil
}

// ListByDomain возвращает записи домена, отсортированные по URL.
func (r *linkCacheRepositoryInMemory) ListByDomain(domainName string) ([]domain.LinkCacheEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.LinkCacheEntry, 0)
	for _, entry := range r.entries {
		if entry.Domain == domainName {
			result = append(result, cloneLinkCacheEntry(entry))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].URL < result[j].URL })
	return result, nil
}

func (r *linkCacheRepositoryInMemory) DeleteExpired(before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for url, entry := range r.entries {
		if entry.LastChecked.After(before) {
			continue
		}
		delete(r.entries, url)
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}
	return removed, nil
}

func cloneLinkCacheEntry(src domain.LinkCacheEntry) domain.LinkCacheEntry {
	dst := src
	dst.AdminOverrides = append([]domain.AdminOverride(nil), src.AdminOverrides...)
	if src.Result.ProductInfo != nil {
		info := *src.Result.ProductInfo
		dst.Result.ProductInfo = &info
	}
	return dst
}

var _ domain.LinkCacheRepository = (*linkCacheRepositoryInMemory)(nil)
