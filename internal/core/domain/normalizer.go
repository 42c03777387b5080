package domain

import (
	"strings"
	"time"
)

// RawIndicator is what an adapter pulls out of its upstream payload before
// canonicalisation. Type is the feed's own spelling and may be empty.
type RawIndicator struct {
	Value      string
	Type       string
	Tags       []string
	Attributes Attributes
}

// Normalizer maps raw feed items to canonical IOC records. The clock is the
// only external input, so results are deterministic for a fixed clock.
type Normalizer struct {
	now func() time.Time
}

func NewNormalizer(now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{now: now}
}

// Now returns the normalizer's clock reading in UTC.
func (n *Normalizer) Now() time.Time {
	return n.now().UTC()
}

// Normalize produces a canonical record for raw as reported by source.
func (n *Normalizer) Normalize(raw RawIndicator, source string) (IOC, error) {
	value := strings.TrimSpace(raw.Value)
	if value == "" {
		return IOC{}, ErrEmptyValue
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return IOC{}, ErrEmptySource
	}

	attrs := raw.Attributes
	if attrs.Confidence != nil {
		attrs.Confidence = IntPtr(clamp(*attrs.Confidence, 0, 100))
	}
	attrs.Country = strings.TrimSpace(attrs.Country)

	return IOC{
		Value:      value,
		Type:       CanonicalType(raw.Type, value),
		Source:     source,
		Timestamp:  n.Now(),
		Tags:       normalizeTags(raw.Tags),
		Attributes: attrs,
	}, nil
}

var typeAliases = map[string]IOCType{
	"ip":               IPAddress,
	"ipv4":             IPAddress,
	"ipv6":             IPAddress,
	"ip:port":          IPAddress,
	"ip_range":         IPRange,
	"cidr":             IPRange,
	"domain":           Domain,
	"hostname":         Domain,
	"url":              URL,
	"uri":              URL,
	"hash":             FileHash,
	"md5_hash":         FileHash,
	"sha1_hash":        FileHash,
	"sha256_hash":      FileHash,
	"filehash-md5":     FileHash,
	"filehash-sha1":    FileHash,
	"filehash-sha256":  FileHash,
	"filehash-pehash":  FileHash,
	"filehash-imphash": FileHash,
}

// CanonicalType maps a feed's type label onto the canonical enum. When the
// label is missing or unknown the value itself is inspected.
func CanonicalType(label, value string) IOCType {
	label = strings.ToLower(strings.TrimSpace(label))
	if t, ok := typeAliases[label]; ok {
		return t
	}
	return InferType(value)
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
