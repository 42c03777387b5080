package reputation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hive-corporation/ctiwatch/internal/adapter/httpclient"
	"github.com/hive-corporation/ctiwatch/internal/core/domain"
	"github.com/hive-corporation/ctiwatch/internal/core/ports"
)

const virusTotalURL = "https://www.virustotal.com/api/v3"

type VirusTotal struct {
	client  httpclient.Doer
	apiKey  string
	baseURL string
}

var _ ports.ReputationProvider = (*VirusTotal)(nil)

func NewVirusTotal(client httpclient.Doer, apiKey string) *VirusTotal {
	return &VirusTotal{client: client, apiKey: apiKey, baseURL: virusTotalURL}
}

func (v *VirusTotal) Name() string {
	return "VirusTotal"
}

type vtResponse struct {
	Data struct {
		Attributes struct {
			LastAnalysisStats struct {
				Malicious  int `json:"malicious"`
				Suspicious int `json:"suspicious"`
				Harmless   int `json:"harmless"`
				Undetected int `json:"undetected"`
			} `json:"last_analysis_stats"`
		} `json:"attributes"`
	} `json:"data"`
}

// endpoint maps an indicator to its v3 object path.
func endpoint(value string, iocType domain.IOCType) (string, error) {
	switch iocType {
	case domain.IPAddress:
		return "/ip_addresses/" + url.PathEscape(value), nil
	case domain.Domain:
		return "/domains/" + url.PathEscape(value), nil
	case domain.URL:
		// URL identifiers are unpadded base64url of the URL itself
		return "/urls/" + base64.RawURLEncoding.EncodeToString([]byte(value)), nil
	case domain.FileHash:
		return "/files/" + url.PathEscape(value), nil
	default:
		return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedType, iocType)
	}
}

func (v *VirusTotal) Lookup(ctx context.Context, value string, iocType domain.IOCType) (*domain.Reputation, error) {
	if v.apiKey == "" {
		return nil, domain.ErrNotConfigured
	}
	path, err := endpoint(value, iocType)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-apikey", v.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("virustotal quota exceeded: %w", err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("virustotal rejected the API key: status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("virustotal API error: status %d", resp.StatusCode)
	}

	var data vtResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode virustotal json: %w", err)
	}

	stats := data.Data.Attributes.LastAnalysisStats
	return &domain.Reputation{
		Value:       value,
		Type:        iocType,
		Malicious:   stats.Malicious,
		Suspicious:  stats.Suspicious,
		Harmless:    stats.Harmless,
		Undetected:  stats.Undetected,
		ThreatLevel: domain.DeriveThreatLevel(stats.Malicious, stats.Suspicious),
		Source:      v.Name(),
	}, nil
}
