package domain

import (
	"net"
	"net/url"
	"strings"
)

// InferType determines the indicator type from the value alone.
func InferType(value string) IOCType {
	value = strings.TrimSpace(value)
	if value == "" {
		return Unknown
	}

	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") ||
		strings.HasPrefix(value, "ftp://") {
		return URL
	}

	if _, _, err := net.ParseCIDR(value); err == nil {
		return IPRange
	}
	if net.ParseIP(value) != nil {
		return IPAddress
	}
	// 1.2.3.4:8080 style, as published by ThreatFox
	if host, _, err := net.SplitHostPort(value); err == nil && net.ParseIP(host) != nil {
		return IPAddress
	}

	if isHexHash(value) {
		return FileHash
	}

	if isDomain(value) {
		return Domain
	}

	return Unknown
}

func isHexHash(value string) bool {
	switch len(value) {
	case 32, 40, 64, 128:
	default:
		return false
	}
	for _, c := range value {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

func isDomain(value string) bool {
	if len(value) > 253 || !strings.Contains(value, ".") {
		return false
	}
	labels := strings.Split(strings.TrimSuffix(value, "."), ".")
	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, c := range label {
			if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_') {
				return false
			}
		}
	}
	// Top-level label must not be all digits, otherwise "1.2.3.999" would pass.
	tld := labels[len(labels)-1]
	for _, c := range tld {
		if c < '0' || c > '9' {
			return true
		}
	}
	return false
}

// ExtractIOCComponents returns the URL record plus one record for its host,
// so that searching for "198.51.100.12" also finds "http://198.51.100.12/x.sh".
// The derived record shares source, timestamp and attributes with the URL.
func ExtractIOCComponents(urlIOC IOC) []IOC {
	components := []IOC{urlIOC}
	if urlIOC.Type != URL {
		return components
	}

	u, err := url.Parse(urlIOC.Value)
	if err != nil {
		return components
	}
	host := u.Hostname()
	if host == "" || host == urlIOC.Value {
		return components
	}

	hostType := Domain
	if net.ParseIP(host) != nil {
		hostType = IPAddress
	}

	tags := append([]string{"extracted-from-url"}, urlIOC.Tags...)
	components = append(components, IOC{
		Value:      NormalizeIOCValue(host, hostType),
		Type:       hostType,
		Source:     urlIOC.Source,
		Timestamp:  urlIOC.Timestamp,
		Tags:       normalizeTags(tags),
		Attributes: urlIOC.Attributes,
	})
	return components
}

// NormalizeIOCValue canonicalises a value for matching.
func NormalizeIOCValue(value string, iocType IOCType) string {
	value = strings.TrimSpace(value)
	switch iocType {
	case URL:
		return strings.TrimSuffix(value, "/")
	case Domain, FileHash:
		return strings.ToLower(value)
	default:
		return value
	}
}
