package exporter

import (
	"fmt"
	"io"
	"strings"

	"github.com/hive-corporation/ctiwatch/internal/core/domain"
)

// CEFExporter writes one Common Event Format line per record for SIEM ingestion.
type CEFExporter struct{}

func (CEFExporter) ContentType() string { return "text/plain; charset=utf-8" }

func (CEFExporter) Extension() string { return "cef" }

// Write renders iocs as CEF lines.
// Format: CEF:Version|Device Vendor|Device Product|Device Version|Signature ID|Name|Severity|Extension
func (e CEFExporter) Write(w io.Writer, iocs []domain.IOC) error {
	for _, ioc := range iocs {
		if _, err := io.WriteString(w, formatCEF(ioc)+"\n"); err != nil {
			return fmt.Errorf("write cef line: %w", err)
		}
	}
	return nil
}

func formatCEF(ioc domain.IOC) string {
	const (
		vendor  = "CTIWatch"
		product = "ThreatIntel"
		version = "1.0"
	)
	confidence := domain.ConfidenceScore(ioc)
	signatureID := string(ioc.Type)
	name := fmt.Sprintf("%s IOC Detected", strings.ToUpper(string(ioc.Type)))

	extensions := []string{
		fmt.Sprintf("src=%s", escapeExtension(ioc.Value)),
		"cn1Label=ConfidenceScore",
		fmt.Sprintf("cn1=%d", confidence),
		"cs1Label=ThreatType",
		fmt.Sprintf("cs1=%s", escapeExtension(threatType(ioc))),
		"cs2Label=Source",
		fmt.Sprintf("cs2=%s", escapeExtension(ioc.Source)),
		"cs3Label=Tags",
		fmt.Sprintf("cs3=%s", escapeExtension(strings.Join(ioc.Tags, ","))),
	}
	if ioc.ThreatLevel != "" {
		extensions = append(extensions,
			"cs4Label=ThreatLevel",
			fmt.Sprintf("cs4=%s", escapeExtension(string(ioc.ThreatLevel))))
	}
	extensions = append(extensions, fmt.Sprintf("rt=%d", ioc.Timestamp.UTC().UnixMilli()))

	return fmt.Sprintf("CEF:0|%s|%s|%s|%s|%s|%d|%s",
		vendor, product, version, escapeHeader(signatureID), escapeHeader(name), severity(confidence), strings.Join(extensions, " "))
}

// severity maps confidence (0-100) to CEF severity (0-10).
func severity(confidence int) int {
	switch {
	case confidence >= 90:
		return 10
	case confidence >= 80:
		return 8
	case confidence >= 70:
		return 6
	case confidence >= 60:
		return 4
	}
	return 2
}

// threatType picks the most specific label a feed gave us.
func threatType(ioc domain.IOC) string {
	switch {
	case ioc.Attributes.ThreatType != "":
		return ioc.Attributes.ThreatType
	case ioc.Attributes.Malware != "" && ioc.Attributes.Malware != "N/A":
		return ioc.Attributes.Malware
	case ioc.HasTag("phishing"):
		return "phishing"
	case ioc.HasTag("c2"):
		return "c2_server"
	}
	return "generic_malware"
}

func escapeHeader(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "|", "\\|")
	return s
}

func escapeExtension(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "=", "\\=")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	return s
}
