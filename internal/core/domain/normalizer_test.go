package domain

import (
	"errors"
	"testing"
	"time"
)

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.FixedZone("BRT", -3*60*60))

func TestNormalize_TrimsAndStamps(t *testing.T) {
	n := NewNormalizer(func() time.Time { return fixedNow })

	ioc, err := n.Normalize(RawIndicator{
		Value: "  203.0.113.7\n",
		Type:  "IPv4",
		Tags:  []string{"botnet", " botnet ", "", "scanner"},
	}, "AbuseIPDB")
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}

	if ioc.Value != "203.0.113.7" {
		t.Errorf("Expected trimmed value, got %q", ioc.Value)
	}
	if ioc.Type != IPAddress {
		t.Errorf("Expected type ip, got %s", ioc.Type)
	}
	if !ioc.Timestamp.Equal(fixedNow) || ioc.Timestamp.Location() != time.UTC {
		t.Errorf("Expected UTC timestamp equal to clock, got %v", ioc.Timestamp)
	}
	if len(ioc.Tags) != 2 || ioc.Tags[0] != "botnet" || ioc.Tags[1] != "scanner" {
		t.Errorf("Expected deduped tags [botnet scanner], got %v", ioc.Tags)
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	n := NewNormalizer(func() time.Time { return fixedNow })
	raw := RawIndicator{Value: "evil.example", Type: "hostname", Tags: []string{"phishing"}}

	a, err := n.Normalize(raw, "AlienVault OTX")
	if err != nil {
		t.Fatal(err)
	}
	b, err := n.Normalize(raw, "AlienVault OTX")
	if err != nil {
		t.Fatal(err)
	}

	if a.Value != b.Value || a.Type != b.Type || !a.Timestamp.Equal(b.Timestamp) || len(a.Tags) != len(b.Tags) {
		t.Errorf("Expected identical output for identical input, got %+v and %+v", a, b)
	}
}

func TestNormalize_Errors(t *testing.T) {
	n := NewNormalizer(nil)

	if _, err := n.Normalize(RawIndicator{Value: "   "}, "Spamhaus"); !errors.Is(err, ErrEmptyValue) {
		t.Errorf("Expected ErrEmptyValue, got %v", err)
	}
	if _, err := n.Normalize(RawIndicator{Value: "1.2.3.4"}, " "); !errors.Is(err, ErrEmptySource) {
		t.Errorf("Expected ErrEmptySource, got %v", err)
	}
}

func TestNormalize_NilTagsBecomeEmpty(t *testing.T) {
	n := NewNormalizer(nil)
	ioc, err := n.Normalize(RawIndicator{Value: "1.2.3.4"}, "Feodo Tracker")
	if err != nil {
		t.Fatal(err)
	}
	if ioc.Tags == nil {
		t.Error("Expected empty, non-nil tags")
	}
}

func TestNormalize_ClampsConfidence(t *testing.T) {
	n := NewNormalizer(nil)
	tests := []struct {
		in   int
		want int
	}{
		{-5, 0},
		{42, 42},
		{250, 100},
	}
	for _, tt := range tests {
		ioc, err := n.Normalize(RawIndicator{Value: "1.2.3.4", Attributes: Attributes{Confidence: IntPtr(tt.in)}}, "AbuseIPDB")
		if err != nil {
			t.Fatal(err)
		}
		if *ioc.Attributes.Confidence != tt.want {
			t.Errorf("confidence %d: expected %d, got %d", tt.in, tt.want, *ioc.Attributes.Confidence)
		}
	}
}

func TestCanonicalType(t *testing.T) {
	tests := []struct {
		label string
		value string
		want  IOCType
	}{
		{"IPv4", "1.2.3.4", IPAddress},
		{"IPv6", "2001:db8::1", IPAddress},
		{"ip:port", "1.2.3.4:443", IPAddress},
		{"CIDR", "10.0.0.0/8", IPRange},
		{"hostname", "bad.example", Domain},
		{"URL", "http://bad.example/x", URL},
		{"sha256_hash", "abc", FileHash},
		{"FileHash-MD5", "d41d8cd98f00b204e9800998ecf8427e", FileHash},
		{"", "198.51.100.0/24", IPRange},
		{"", "https://phish.example/login", URL},
		{"", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", FileHash},
		{"", "malware.example.org", Domain},
		{"", "1.2.3.999", Unknown},
		{"mutex", "Global\\evil", Unknown},
		{"", "not a value", Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.label+"/"+tt.value, func(t *testing.T) {
			if got := CanonicalType(tt.label, tt.value); got != tt.want {
				t.Errorf("CanonicalType(%q, %q) = %s, want %s", tt.label, tt.value, got, tt.want)
			}
		})
	}
}

func TestExtractIOCComponents(t *testing.T) {
	urlIOC := IOC{
		Value:  "http://198.51.100.12/bins/x.sh",
		Type:   URL,
		Source: "URLhaus",
		Tags:   []string{"mirai"},
	}

	components := ExtractIOCComponents(urlIOC)
	if len(components) != 2 {
		t.Fatalf("Expected 2 components, got %d", len(components))
	}
	host := components[1]
	if host.Value != "198.51.100.12" || host.Type != IPAddress {
		t.Errorf("Expected ip host component, got %+v", host)
	}
	if host.Source != "URLhaus" {
		t.Errorf("Expected source to be preserved, got %s", host.Source)
	}
	if !host.HasTag("extracted-from-url") || !host.HasTag("mirai") {
		t.Errorf("Expected derived tags, got %v", host.Tags)
	}

	if got := ExtractIOCComponents(IOC{Value: "1.2.3.4", Type: IPAddress}); len(got) != 1 {
		t.Errorf("Expected non-URL to pass through, got %d components", len(got))
	}
}
