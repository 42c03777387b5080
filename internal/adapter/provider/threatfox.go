package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hive-corporation/ctiwatch/internal/adapter/httpclient"
	"github.com/hive-corporation/ctiwatch/internal/core/domain"
)

const threatFoxURL = "https://threatfox-api.abuse.ch/api/v1/"

type ThreatFoxProvider struct {
	client     httpclient.Doer
	normalizer *domain.Normalizer
	authKey    string
	url        string
	maxRecords int
}

// NewThreatFoxProvider builds the adapter. authKey is optional; abuse.ch
// applies stricter rate limits without it.
func NewThreatFoxProvider(client httpclient.Doer, normalizer *domain.Normalizer, authKey string, maxRecords int) *ThreatFoxProvider {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &ThreatFoxProvider{
		client:     client,
		normalizer: normalizer,
		authKey:    authKey,
		url:        threatFoxURL,
		maxRecords: maxRecords,
	}
}

func (p *ThreatFoxProvider) Name() string {
	return "ThreatFox"
}

type threatFoxResponse struct {
	QueryStatus string `json:"query_status"`
	// "data" is a list on success and a string message otherwise
	Data json.RawMessage `json:"data"`
}

type threatFoxIOC struct {
	IOC              string   `json:"ioc"`
	IOCType          string   `json:"ioc_type"`
	ThreatType       string   `json:"threat_type"`
	MalwarePrintable string   `json:"malware_printable"`
	ConfidenceLevel  int      `json:"confidence_level"`
	Tags             []string `json:"tags"`
}

func (p *ThreatFoxProvider) FetchIOCS(ctx context.Context) ([]domain.IOC, error) {
	payload, _ := json.Marshal(map[string]any{"query": "get_iocs", "days": 1})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return nil, &domain.FetchError{Source: p.Name(), Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if p.authKey != "" {
		req.Header.Set("Auth-Key", p.authKey)
	}

	var resp threatFoxResponse
	if err := fetchJSON(p.client, p.Name(), req, &resp); err != nil {
		return nil, err
	}

	switch resp.QueryStatus {
	case "ok":
	case "no_result":
		return []domain.IOC{}, nil
	default:
		return nil, &domain.FetchError{Source: p.Name(), Cause: fmt.Errorf("query_status %q", resp.QueryStatus)}
	}

	var items []threatFoxIOC
	if err := json.Unmarshal(resp.Data, &items); err != nil {
		return nil, &domain.FetchError{Source: p.Name(), Cause: fmt.Errorf("decode data: %w", err)}
	}

	c := newCollector(p.normalizer, p.Name(), p.maxRecords)
	for _, item := range items {
		malware := item.MalwarePrintable
		if malware == "" {
			malware = "N/A"
		}
		if !c.add(domain.RawIndicator{
			Value: item.IOC,
			Type:  strings.ToLower(item.IOCType),
			Tags:  item.Tags,
			Attributes: domain.Attributes{
				Malware:    malware,
				Confidence: domain.IntPtr(item.ConfidenceLevel),
				ThreatType: item.ThreatType,
			},
		}) {
			break
		}
	}
	return c.result(), nil
}
