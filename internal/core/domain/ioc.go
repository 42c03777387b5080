package domain

import "time"

type IOCType string

const (
	IPAddress IOCType = "ip"
	IPRange   IOCType = "ip_range"
	URL       IOCType = "url"
	Domain    IOCType = "domain"
	FileHash  IOCType = "hash"
	Unknown   IOCType = "unknown"
)

// AllTypes lists every canonical indicator type.
var AllTypes = []IOCType{IPAddress, IPRange, URL, Domain, FileHash, Unknown}

func (t IOCType) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

type IOC struct {
	ID          string      `json:"id"`
	Value       string      `json:"value"`     // O indicador em si (IP, CIDR, domínio, URL ou hash)
	Type        IOCType     `json:"type"`      // ip, ip_range, url, domain, hash, unknown
	Source      string      `json:"source"`    // Nome do feed de origem, parte da chave de dedup
	Timestamp   time.Time   `json:"timestamp"` // Quando NÓS ingerimos isso (UTC)
	Tags        []string    `json:"tags"`
	Attributes  Attributes  `json:"attributes"`
	ThreatLevel ThreatLevel `json:"threat_level,omitempty"` // Preenchido só por consultas de reputação
}

// Attributes is the sparse, feed-specific part of an IOC record.
type Attributes struct {
	Confidence *int   `json:"confidence,omitempty"`
	Country    string `json:"country,omitempty"`
	Pulse      string `json:"pulse,omitempty"`
	Malware    string `json:"malware,omitempty"`
	Verified   *bool  `json:"verified,omitempty"`
	Reference  string `json:"reference,omitempty"`
	Target     string `json:"target,omitempty"`
	ThreatType string `json:"threat_type,omitempty"`
}

// Key returns the dedup key of the record.
func (i IOC) Key() Key {
	return Key{Value: i.Value, Source: i.Source}
}

// Key is the (value, source) uniqueness key.
type Key struct {
	Value  string
	Source string
}

func (k Key) String() string {
	return k.Value + "\x00" + k.Source
}

// HasTag reports whether tag is already on the record.
func (i IOC) HasTag(tag string) bool {
	for _, t := range i.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// IntPtr and BoolPtr help adapters fill optional attributes.
func IntPtr(v int) *int { return &v }

func BoolPtr(v bool) *bool { return &v }
