package exporter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hive-corporation/ctiwatch/internal/core/domain"
)

// stixNamespace seeds indicator ids so the same record always exports
// under the same STIX id.
var stixNamespace = uuid.MustParse("2f5b7d0c-6f0e-4d3c-9a51-3c1f0e7b8a42")

// STIXExporter writes a STIX 2.1 bundle of indicators.
type STIXExporter struct{}

func (STIXExporter) ContentType() string { return "application/json" }

func (STIXExporter) Extension() string { return "json" }

func (e STIXExporter) Write(w io.Writer, iocs []domain.IOC) error {
	bundle := STIXBundle{
		Type:    "bundle",
		ID:      fmt.Sprintf("bundle--%s", uuid.New().String()),
		Objects: make([]STIXObject, 0, len(iocs)),
	}
	for _, ioc := range iocs {
		bundle.Objects = append(bundle.Objects, convertToSTIX(ioc))
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(bundle); err != nil {
		return fmt.Errorf("failed to marshal STIX bundle: %w", err)
	}
	return nil
}

func convertToSTIX(ioc domain.IOC) STIXObject {
	seen := ioc.Timestamp.UTC().Format(time.RFC3339)

	var refs []ExternalReference
	if ioc.Source != "" {
		refs = append(refs, ExternalReference{SourceName: ioc.Source, URL: sourceURL(ioc.Source)})
	}

	return STIXObject{
		Type:               "indicator",
		SpecVersion:        "2.1",
		ID:                 "indicator--" + uuid.NewSHA1(stixNamespace, []byte(ioc.Key().String())).String(),
		Created:            seen,
		Modified:           seen,
		Name:               fmt.Sprintf("%s Indicator", strings.ToUpper(string(ioc.Type))),
		Pattern:            buildPattern(ioc),
		PatternType:        "stix",
		ValidFrom:          seen,
		IndicatorTypes:     indicatorTypes(threatType(ioc)),
		Confidence:         domain.ConfidenceScore(ioc),
		Labels:             ioc.Tags,
		ExternalReferences: refs,
	}
}

func buildPattern(ioc domain.IOC) string {
	value := strings.ReplaceAll(ioc.Value, "'", "\\'")
	switch ioc.Type {
	case domain.IPAddress, domain.IPRange:
		if strings.Contains(value, ":") {
			return fmt.Sprintf("[ipv6-addr:value = '%s']", value)
		}
		return fmt.Sprintf("[ipv4-addr:value = '%s']", value)
	case domain.Domain:
		return fmt.Sprintf("[domain-name:value = '%s']", value)
	case domain.URL:
		return fmt.Sprintf("[url:value = '%s']", value)
	case domain.FileHash:
		return fmt.Sprintf("[file:hashes.'%s' = '%s']", hashAlgorithm(value), value)
	default:
		return fmt.Sprintf("[x-ctiwatch-indicator:value = '%s']", value)
	}
}

func indicatorTypes(threatType string) []string {
	mapping := map[string][]string{
		"c2_server":        {"malicious-activity", "command-and-control"},
		"botnet_cc":        {"malicious-activity", "command-and-control"},
		"payload_delivery": {"malicious-activity", "malware-download"},
		"malware_download": {"malicious-activity", "malware-download"},
		"phishing":         {"malicious-activity", "phishing"},
	}
	if types, ok := mapping[threatType]; ok {
		return types
	}
	return []string{"malicious-activity"}
}

func sourceURL(source string) string {
	urls := map[string]string{
		"AbuseIPDB":      "https://www.abuseipdb.com",
		"AlienVault OTX": "https://otx.alienvault.com",
		"Spamhaus":       "https://www.spamhaus.org/drop/",
		"PhishTank":      "https://phishtank.org",
		"ThreatFox":      "https://threatfox.abuse.ch",
		"URLhaus":        "https://urlhaus.abuse.ch",
		"Feodo Tracker":  "https://feodotracker.abuse.ch",
	}
	return urls[source]
}

// hashAlgorithm guesses the algorithm from the digest length.
func hashAlgorithm(hash string) string {
	switch len(hash) {
	case 32:
		return "MD5"
	case 40:
		return "SHA-1"
	case 128:
		return "SHA-512"
	default:
		return "SHA-256"
	}
}

// STIX 2.1 data structures

type STIXBundle struct {
	Type    string       `json:"type"`
	ID      string       `json:"id"`
	Objects []STIXObject `json:"objects"`
}

type STIXObject struct {
	Type               string              `json:"type"`
	SpecVersion        string              `json:"spec_version"`
	ID                 string              `json:"id"`
	Created            string              `json:"created"`
	Modified           string              `json:"modified"`
	Name               string              `json:"name"`
	Pattern            string              `json:"pattern"`
	PatternType        string              `json:"pattern_type"`
	ValidFrom          string              `json:"valid_from"`
	IndicatorTypes     []string            `json:"indicator_types"`
	Confidence         int                 `json:"confidence"`
	Labels             []string            `json:"labels,omitempty"`
	ExternalReferences []ExternalReference `json:"external_references,omitempty"`
}

type ExternalReference struct {
	SourceName string `json:"source_name"`
	URL        string `json:"url,omitempty"`
}
