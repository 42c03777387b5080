package provider

import (
	"context"
	"fmt"

	"github.com/hive-corporation/ctiwatch/internal/adapter/httpclient"
	"github.com/hive-corporation/ctiwatch/internal/core/domain"
)

const (
	otxURL         = "https://otx.alienvault.com/api/v1/pulses/subscribed"
	otxPageSize    = 10
	otxDefaultPage = 5
)

type OTXProvider struct {
	client     httpclient.Doer
	normalizer *domain.Normalizer
	apiKey     string
	url        string
	maxPages   int
	maxRecords int
}

func NewOTXProvider(client httpclient.Doer, normalizer *domain.Normalizer, apiKey string, maxPages, maxRecords int) *OTXProvider {
	if maxPages <= 0 {
		maxPages = otxDefaultPage
	}
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &OTXProvider{
		client:     client,
		normalizer: normalizer,
		apiKey:     apiKey,
		url:        otxURL,
		maxPages:   maxPages,
		maxRecords: maxRecords,
	}
}

func (p *OTXProvider) Name() string {
	return "AlienVault OTX"
}

type otxResponse struct {
	Results []otxPulse `json:"results"`
	Next    *string    `json:"next"`
}

type otxPulse struct {
	Name       string         `json:"name"`
	Indicators []otxIndicator `json:"indicators"`
	Tags       []string       `json:"tags"`
}

type otxIndicator struct {
	Indicator string `json:"indicator"`
	Type      string `json:"type"` // ex: IPv4, domain, FileHash-SHA256
}

func (p *OTXProvider) FetchIOCS(ctx context.Context) ([]domain.IOC, error) {
	if p.apiKey == "" {
		return nil, domain.ErrNotConfigured
	}

	c := newCollector(p.normalizer, p.Name(), p.maxRecords)

	// Segue o campo "next" até acabar ou bater o limite de páginas
	for page := 1; page <= p.maxPages && !c.full(); page++ {
		url := fmt.Sprintf("%s?limit=%d&page=%d", p.url, otxPageSize, page)
		req, err := newGET(ctx, p.Name(), url)
		if err != nil {
			return nil, err
		}
		// OTX exige a Key no Header
		req.Header.Set("X-OTX-API-KEY", p.apiKey)

		var data otxResponse
		if err := fetchJSON(p.client, p.Name(), req, &data); err != nil {
			return nil, err
		}

		// Itera sobre os Pulsos e seus Indicadores
		for _, pulse := range data.Results {
			for _, ind := range pulse.Indicators {
				if !c.add(domain.RawIndicator{
					Value:      ind.Indicator,
					Type:       ind.Type,
					Tags:       pulse.Tags,
					Attributes: domain.Attributes{Pulse: pulse.Name},
				}) {
					break
				}
			}
		}

		if data.Next == nil || *data.Next == "" {
			break
		}
	}

	return c.result(), nil
}
