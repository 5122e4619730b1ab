package validation

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
	"github.com/vladislavdragonenkov/forwarder/internal/metrics"
	"github.com/vladislavdragonenkov/forwarder/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestValidator(t *testing.T) (*Validator, domain.LinkCacheRepository, *fakeClock, *prometheus.Registry) {
	t.Helper()

	reg := prometheus.NewRegistry()
	cache := memory.NewLinkCacheRepository()
	clock := &fakeClock{now: time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)}
	v := NewValidator(
		WithCache(cache),
		WithMetrics(metrics.NewLifecycleMetricsWithRegisterer(reg)),
		WithClock(clock.Now),
	)
	return v, cache, clock, reg
}

func cacheLookups(t *testing.T, reg *prometheus.Registry, result string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "forwarder_link_cache_lookups_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "result" && l.GetValue() == result {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestValidator_Classification(t *testing.T) {
	cases := []struct {
		name        string
		url         string
		hint        string
		valid       bool
		supported   bool
		risk        domain.RiskLevel
		manual      bool
		errorSubstr string
	}{
		{name: "low risk retailer", url: "https://www.amazon.com/dp/B000", valid: true, supported: true, risk: domain.RiskLevelLow},
		{name: "high risk marketplace", url: "https://aliexpress.com/item/1.html", valid: true, supported: true, risk: domain.RiskLevelHigh, manual: true},
		{name: "default medium", url: "https://zara.com/us/en/shirt", valid: true, supported: true, risk: domain.RiskLevelMedium},
		{name: "fraud prone hint lifts low", url: "https://bestbuy.com/site/tv", hint: "electronics", valid: true, supported: true, risk: domain.RiskLevelMedium},
		{name: "hint never lowers high", url: "https://temu.com/goods", hint: "jewelry", valid: true, supported: true, risk: domain.RiskLevelHigh, manual: true},
		{name: "unsupported retailer", url: "https://randomshop.xyz/p", valid: true, supported: false, risk: domain.RiskLevelRestricted, manual: true, errorSubstr: "not currently supported"},
		{name: "not a url", url: "not a url", valid: false, supported: false, risk: domain.RiskLevelRestricted, errorSubstr: "Invalid URL format"},
		{name: "empty string", url: "", valid: false, supported: false, risk: domain.RiskLevelRestricted, errorSubstr: "Invalid URL format"},
		{name: "ftp scheme", url: "ftp://amazon.com/file", valid: false, supported: false, risk: domain.RiskLevelRestricted, errorSubstr: "Invalid URL format"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, _, _, _ := newTestValidator(t)

			result, err := v.Validate(context.Background(), tc.url, tc.hint)
			require.NoError(t, err)
			require.Equal(t, tc.valid, result.IsValid)
			require.Equal(t, tc.supported, result.IsSupported)
			require.Equal(t, tc.risk, result.RiskLevel)
			require.Equal(t, tc.manual, result.RequiresManualReview)
			if tc.errorSubstr != "" {
				require.Contains(t, result.ErrorMessage, tc.errorSubstr)
			} else {
				require.Empty(t, result.ErrorMessage)
			}
		})
	}
}

func TestValidator_SupportedResultCarriesProductInfo(t *testing.T) {
	v, _, _, _ := newTestValidator(t)

	result, err := v.Validate(context.Background(), "https://walmart.com/ip/123", "")
	require.NoError(t, err)
	require.Equal(t, "in_stock", result.StockStatus)
	require.NotNil(t, result.ProductInfo)
	require.Equal(t, "Product from walmart.com", result.ProductInfo.Title)
	require.Equal(t, "USD", result.ProductInfo.Currency)
	require.Equal(t, domain.ValidationMethodAuto, result.ValidationMethod)
}

func TestValidator_SecondCallServedFromCache(t *testing.T) {
	v, _, clock, reg := newTestValidator(t)
	ctx := context.Background()

	first, err := v.Validate(ctx, "https://amazon.com/dp/B000/", "")
	require.NoError(t, err)

	clock.Advance(time.Hour)
	second, err := v.Validate(ctx, "https://WWW.Amazon.com/dp/B000#reviews", "")
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, float64(1), cacheLookups(t, reg, "miss"))
	require.Equal(t, float64(1), cacheLookups(t, reg, "hit"))
}

func TestValidator_HintAppliedAfterCacheHit(t *testing.T) {
	v, _, _, _ := newTestValidator(t)
	ctx := context.Background()

	plain, err := v.Validate(ctx, "https://target.com/p/1", "")
	require.NoError(t, err)
	require.Equal(t, domain.RiskLevelLow, plain.RiskLevel)

	hinted, err := v.Validate(ctx, "https://target.com/p/1", "perfume")
	require.NoError(t, err)
	require.Equal(t, domain.RiskLevelMedium, hinted.RiskLevel)
}

func TestValidator_StaleEntryRecomputed(t *testing.T) {
	v, cache, clock, reg := newTestValidator(t)
	ctx := context.Background()

	_, err := v.Validate(ctx, "https://nike.com/t/shoe", "")
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)
	_, err = v.Validate(ctx, "https://nike.com/t/shoe", "")
	require.NoError(t, err)
	require.Equal(t, float64(1), cacheLookups(t, reg, "stale"))

	entry, err := cache.Get("https://nike.com/t/shoe")
	require.NoError(t, err)
	require.Equal(t, clock.Now(), entry.LastChecked)
}

func TestValidator_OverridesAccumulateAndSurviveRefresh(t *testing.T) {
	v, _, clock, _ := newTestValidator(t)
	ctx := context.Background()
	link := "https://ebay.com/itm/42"

	// Переопределение ссылки, которую ещё не проверяли, создаёт запись.
	entry, err := v.Override(ctx, link, domain.AdminOverride{AdminID: "admin-1", Action: "approve", Notes: "checked seller"})
	require.NoError(t, err)
	require.Len(t, entry.AdminOverrides, 1)
	require.Equal(t, domain.ValidationMethodOverride, entry.Result.ValidationMethod)

	entry, err = v.Override(ctx, link, domain.AdminOverride{AdminID: "admin-2", Action: "reject"})
	require.NoError(t, err)
	require.Len(t, entry.AdminOverrides, 2)
	require.Equal(t, "admin-1", entry.AdminOverrides[0].AdminID)
	require.Equal(t, "admin-2", entry.AdminOverrides[1].AdminID)

	clock.Advance(48 * time.Hour)
	result, err := v.Validate(ctx, link, "")
	require.NoError(t, err)
	require.Equal(t, domain.ValidationMethodOverride, result.ValidationMethod)

	stored, err := v.Lookup(ctx, link)
	require.NoError(t, err)
	require.Len(t, stored.AdminOverrides, 2)
}

func TestValidator_OverrideRejectsInvalidLink(t *testing.T) {
	v, _, _, _ := newTestValidator(t)

	_, err := v.Override(context.Background(), "::::", domain.AdminOverride{AdminID: "admin"})
	require.ErrorIs(t, err, domain.ErrInvalidProductLink)
}

func TestValidator_ListByDomainAndPurge(t *testing.T) {
	v, _, clock, _ := newTestValidator(t)
	ctx := context.Background()

	_, _ = v.Validate(ctx, "https://amazon.com/dp/1", "")
	_, _ = v.Validate(ctx, "https://amazon.com/dp/2", "")
	clock.Advance(30 * time.Hour)
	_, _ = v.Validate(ctx, "https://amazon.com/dp/3", "")

	entries, err := v.ListByDomain(ctx, "WWW.amazon.com")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	purged, err := v.PurgeExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, purged)

	entries, err = v.ListByDomain(ctx, "amazon.com")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestValidator_WithoutCache(t *testing.T) {
	v := NewValidator()

	result, err := v.Validate(context.Background(), "https://hm.com/item", "")
	require.NoError(t, err)
	require.True(t, result.IsSupported)

	_, err = v.Override(context.Background(), "https://hm.com/item", domain.AdminOverride{AdminID: "a"})
	require.Error(t, err)
}

func TestValidator_CancelledContext(t *testing.T) {
	v, _, _, _ := newTestValidator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.Validate(ctx, "https://amazon.com/dp/1", "")
	require.ErrorIs(t, err, context.Canceled)
}

func TestNormalizeLink(t *testing.T) {
	cases := map[string]string{
		"https://www.Amazon.com/dp/1/":       "https://amazon.com/dp/1",
		"HTTPS://amazon.com/dp/1?ref=x#frag": "https://amazon.com/dp/1?ref=x",
		"http://shop.zara.com:8080/a":        "http://shop.zara.com:8080/a",
		"https://amazon.com/":                "https://amazon.com",
	}
	for raw, want := range cases {
		got, ok := NormalizeLink(raw)
		require.True(t, ok, raw)
		require.Equal(t, want, got, raw)
	}

	_, ok := NormalizeLink("amazon.com/dp/1")
	require.False(t, ok)
}

func TestRetailerPolicy_IsSupported(t *testing.T) {
	policy := DefaultRetailerPolicy()

	require.True(t, policy.IsSupported("amazon.com"))
	require.True(t, policy.IsSupported("smile.amazon.com"))
	require.False(t, policy.IsSupported(""))
	require.False(t, policy.IsSupported("example.org"))

	require.True(t, policy.IsSupported("amazon.com.mx"))
	require.True(t, policy.IsSupported("AMAZON.co"))
	require.True(t, policy.IsSupported("ulta.com"))
	require.False(t, policy.IsSupported("a.com"))
	require.False(t, policy.IsSupported("co.uk"))
	require.False(t, policy.IsSupported("com"))
	require.False(t, policy.IsSupported("notamazon.com"))
}

func TestRetailerPolicy_RiskListsMatchWholeLabels(t *testing.T) {
	policy := DefaultRetailerPolicy()

	require.True(t, policy.isHighRisk("m.aliexpress.com"))
	require.False(t, policy.isHighRisk("notaliexpress.com"))
	require.True(t, policy.isLowRisk("www.amazon.com"))
	require.False(t, policy.isLowRisk("mytarget.com"))
}
