package provider

import (
	"context"
	"net/url"
	"strconv"

	"github.com/hive-corporation/ctiwatch/internal/adapter/httpclient"
	"github.com/hive-corporation/ctiwatch/internal/core/domain"
)

const (
	abuseIPDBURL           = "https://api.abuseipdb.com/api/v2/blacklist"
	abuseIPDBMinConfidence = 90
	abuseIPDBLimit         = 100
)

type AbuseIPDBProvider struct {
	client     httpclient.Doer
	normalizer *domain.Normalizer
	apiKey     string
	url        string
}

func NewAbuseIPDBProvider(client httpclient.Doer, normalizer *domain.Normalizer, apiKey string) *AbuseIPDBProvider {
	return &AbuseIPDBProvider{
		client:     client,
		normalizer: normalizer,
		apiKey:     apiKey,
		url:        abuseIPDBURL,
	}
}

func (p *AbuseIPDBProvider) Name() string {
	return "AbuseIPDB"
}

type abuseIPDBResponse struct {
	Data []struct {
		IPAddress            string `json:"ipAddress"`
		AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
		CountryCode          string `json:"countryCode"`
	} `json:"data"`
}

func (p *AbuseIPDBProvider) FetchIOCS(ctx context.Context) ([]domain.IOC, error) {
	if p.apiKey == "" {
		return nil, domain.ErrNotConfigured
	}

	q := url.Values{}
	q.Set("confidenceMinimum", strconv.Itoa(abuseIPDBMinConfidence))
	q.Set("limit", strconv.Itoa(abuseIPDBLimit))

	req, err := newGET(ctx, p.Name(), p.url+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	// AbuseIPDB exige a Key no Header
	req.Header.Set("Key", p.apiKey)

	var data abuseIPDBResponse
	if err := fetchJSON(p.client, p.Name(), req, &data); err != nil {
		return nil, err
	}

	c := newCollector(p.normalizer, p.Name(), 0)
	for _, item := range data.Data {
		country := item.CountryCode
		if country == "" {
			country = "Unknown"
		}
		c.add(domain.RawIndicator{
			Value: item.IPAddress,
			Type:  "ip",
			Attributes: domain.Attributes{
				Confidence: domain.IntPtr(item.AbuseConfidenceScore),
				Country:    country,
			},
		})
	}
	return c.result(), nil
}
