package provider

import (
	"context"

	"github.com/hive-corporation/ctiwatch/internal/adapter/httpclient"
	"github.com/hive-corporation/ctiwatch/internal/core/domain"
)

const phishTankURL = "https://data.phishtank.com/data/online-valid.json"

type PhishTankProvider struct {
	client     httpclient.Doer
	normalizer *domain.Normalizer
	url        string
	maxRecords int
}

func NewPhishTankProvider(client httpclient.Doer, normalizer *domain.Normalizer, maxRecords int) *PhishTankProvider {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &PhishTankProvider{
		client:     client,
		normalizer: normalizer,
		url:        phishTankURL,
		maxRecords: maxRecords,
	}
}

func (p *PhishTankProvider) Name() string {
	return "PhishTank"
}

type phishTankEntry struct {
	URL      string `json:"url"`
	Verified any    `json:"verified"` // "yes" in the dump, bool in the API
	Target   string `json:"target"`
}

func (p *PhishTankProvider) FetchIOCS(ctx context.Context) ([]domain.IOC, error) {
	req, err := newGET(ctx, p.Name(), p.url)
	if err != nil {
		return nil, err
	}

	var entries []phishTankEntry
	if err := fetchJSON(p.client, p.Name(), req, &entries); err != nil {
		return nil, err
	}

	c := newCollector(p.normalizer, p.Name(), p.maxRecords)
	for _, e := range entries {
		target := e.Target
		if target == "" {
			target = "Unknown"
		}
		if !c.add(domain.RawIndicator{
			Value: e.URL,
			Type:  "url",
			Attributes: domain.Attributes{
				Verified: domain.BoolPtr(isVerified(e.Verified)),
				Target:   target,
			},
		}) {
			break
		}
	}
	return c.result(), nil
}

func isVerified(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "yes" || t == "true"
	default:
		return false
	}
}
