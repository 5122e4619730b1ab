package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
)

func sampleLinkEntry(url, host string, checked time.Time) domain.LinkCacheEntry {
	return domain.LinkCacheEntry{
		URL:    url,
		Domain: host,
		Result: domain.ValidationResult{
			IsValid:          true,
			IsSupported:      true,
			RiskLevel:        domain.RiskLevelLow,
			ValidationMethod: domain.ValidationMethodAuto,
			StockStatus:      "in_stock",
			ProductInfo: &domain.ProductInfo{
				Title:        "Product from " + host,
				Currency:     "USD",
				Availability: "Available",
			},
		},
		LastChecked: checked,
	}
}

func TestLinkCacheRepository_PostgresPutGetOverrides(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewLinkCacheRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	url := "https://amazon.com/dp/B0001"

	_, err := repo.Get(url)
	require.ErrorIs(t, err, domain.ErrLinkNotCached)

	_, err = repo.AppendOverride(url, domain.AdminOverride{AdminID: "admin-1", Action: "approve", Timestamp: now})
	require.ErrorIs(t, err, domain.ErrLinkNotCached)

	stored, err := repo.Put(sampleLinkEntry(url, "amazon.com", now))
	require.NoError(t, err)
	require.Equal(t, "Product from amazon.com", stored.Result.ProductInfo.Title)
	require.Empty(t, stored.AdminOverrides)

	_, err = repo.AppendOverride(url, domain.AdminOverride{AdminID: "admin-1", Action: "approve", Timestamp: now})
	require.NoError(t, err)
	withOverrides, err := repo.AppendOverride(url, domain.AdminOverride{AdminID: "admin-2", Action: "flag", Notes: "counterfeit", Timestamp: now.Add(time.Second)})
	require.NoError(t, err)
	require.Len(t, withOverrides.AdminOverrides, 2)
	require.Equal(t, "admin-1", withOverrides.AdminOverrides[0].AdminID)
	require.Equal(t, "counterfeit", withOverrides.AdminOverrides[1].Notes)

	// Повторная проверка ссылки не стирает аудит ручных решений.
	refreshed := sampleLinkEntry(url, "amazon.com", now.Add(time.Hour))
	refreshed.Result.RiskLevel = domain.RiskLevelMedium
	got, err := repo.Put(refreshed)
	require.NoError(t, err)
	require.Equal(t, domain.RiskLevelMedium, got.Result.RiskLevel)
	require.Len(t, got.AdminOverrides, 2)
	require.True(t, got.LastChecked.Equal(now.Add(time.Hour)))
}

func TestLinkCacheRepository_PostgresListAndPurge(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewLinkCacheRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	_, err := repo.Put(sampleLinkEntry("https://ebay.com/itm/2", "ebay.com", now.Add(-48*time.Hour)))
	require.NoError(t, err)
	_, err = repo.Put(sampleLinkEntry("https://ebay.com/itm/1", "ebay.com", now.Add(-30*time.Hour)))
	require.NoError(t, err)
	_, err = repo.Put(sampleLinkEntry("https://amazon.com/dp/1", "amazon.com", now))
	require.NoError(t, err)
	_, err = repo.AppendOverride("https://ebay.com/itm/2", domain.AdminOverride{AdminID: "admin", Action: "approve", Timestamp: now})
	require.NoError(t, err)

	ebay, err := repo.ListByDomain("ebay.com")
	require.NoError(t, err)
	require.Len(t, ebay, 2)
	require.Equal(t, "https://ebay.com/itm/1", ebay[0].URL)

	deleted, err := repo.DeleteExpired(now.Add(-24*time.Hour), 1)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	deleted, err = repo.DeleteExpired(now.Add(-24*time.Hour), 0)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	ebay, err = repo.ListByDomain("ebay.com")
	require.NoError(t, err)
	require.Empty(t, ebay)

	_, err = repo.Get("https://amazon.com/dp/1")
	require.NoError(t, err)
}
