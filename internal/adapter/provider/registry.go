package provider

import (
	"github.com/hive-corporation/ctiwatch/internal/adapter/httpclient"
	"github.com/hive-corporation/ctiwatch/internal/config"
	"github.com/hive-corporation/ctiwatch/internal/core/domain"
	"github.com/hive-corporation/ctiwatch/internal/core/ports"
)

// Registry returns every feed adapter in run order. Adapters without
// credentials are still returned; they report themselves as skipped.
func Registry(cfg *config.Config, client httpclient.Doer, normalizer *domain.Normalizer) []ports.FeedAdapter {
	maxRecords := cfg.Ingest.MaxRecordsPerFeed

	return []ports.FeedAdapter{
		NewAbuseIPDBProvider(client, normalizer, cfg.Feeds.AbuseIPDBKey),
		NewOTXProvider(client, normalizer, cfg.Feeds.OTXAPIKey, cfg.Feeds.OTXMaxPages, maxRecords),
		NewSpamhausProvider(client, normalizer),
		NewPhishTankProvider(client, normalizer, maxRecords),
		NewThreatFoxProvider(client, normalizer, cfg.Feeds.ThreatFoxAuthKey, maxRecords),
		NewURLHausProvider(client, normalizer, maxRecords),
		NewFeodoProvider(client, normalizer, maxRecords),
	}
}

// Select keeps only the adapters whose name is in names. An empty list keeps
// all of them.
func Select(adapters []ports.FeedAdapter, names []string) []ports.FeedAdapter {
	if len(names) == 0 {
		return adapters
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []ports.FeedAdapter
	for _, a := range adapters {
		if want[a.Name()] {
			out = append(out, a)
		}
	}
	return out
}
