package domain

// ThreatLevel is the bucketed severity derived from reputation detections.
type ThreatLevel string

const (
	ThreatClean    ThreatLevel = "Clean"
	ThreatLow      ThreatLevel = "Low"
	ThreatMedium   ThreatLevel = "Medium"
	ThreatHigh     ThreatLevel = "High"
	ThreatCritical ThreatLevel = "Critical"
)

// Reputation is the result of a third-party lookup for one indicator.
type Reputation struct {
	Value       string      `json:"value"`
	Type        IOCType     `json:"type"`
	Malicious   int         `json:"malicious"`
	Suspicious  int         `json:"suspicious"`
	Harmless    int         `json:"harmless"`
	Undetected  int         `json:"undetected"`
	ThreatLevel ThreatLevel `json:"threat_level"`
	Source      string      `json:"source"`
}

// DeriveThreatLevel buckets malicious+suspicious detections.
//
//	0 Clean, 1-2 Low, 3-5 Medium, 6-10 High, >10 Critical
//
// This is a pure domain function with no I/O dependencies.
func DeriveThreatLevel(malicious, suspicious int) ThreatLevel {
	total := malicious + suspicious
	switch {
	case total <= 0:
		return ThreatClean
	case total <= 2:
		return ThreatLow
	case total <= 5:
		return ThreatMedium
	case total <= 10:
		return ThreatHigh
	default:
		return ThreatCritical
	}
}

// ConfidenceScore maps a record to a 0-100 score for exporters. Feeds that
// publish their own confidence win; otherwise a threat level is used, and
// finally a base score that rewards well-tagged records.
func ConfidenceScore(ioc IOC) int {
	if ioc.Attributes.Confidence != nil {
		return clamp(*ioc.Attributes.Confidence, 0, 100)
	}

	switch ioc.ThreatLevel {
	case ThreatCritical:
		return 95
	case ThreatHigh:
		return 85
	case ThreatMedium:
		return 70
	case ThreatLow:
		return 55
	case ThreatClean:
		return 20
	}

	confidence := 70
	if ioc.Attributes.Verified != nil && *ioc.Attributes.Verified {
		confidence += 15
	}
	if len(ioc.Tags) > 3 {
		confidence += 5
	}
	return clamp(confidence, 0, 100)
}
