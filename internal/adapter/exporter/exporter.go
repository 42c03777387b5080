// Package exporter renders stored indicators in formats SIEMs and
// spreadsheets can ingest.
package exporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hive-corporation/ctiwatch/internal/core/domain"
)

// Exporter writes a batch of records in one format.
type Exporter interface {
	ContentType() string
	Extension() string
	Write(w io.Writer, iocs []domain.IOC) error
}

var formats = map[string]Exporter{
	"json": JSONExporter{},
	"csv":  CSVExporter{},
	"cef":  CEFExporter{},
	"stix": STIXExporter{},
}

// ForFormat returns the exporter registered under name (case-insensitive).
func ForFormat(name string) (Exporter, error) {
	e, ok := formats[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unsupported export format %q (want one of %s)", name, strings.Join(Formats(), ", "))
	}
	return e, nil
}

// Formats lists the registered format names.
func Formats() []string {
	names := make([]string, 0, len(formats))
	for name := range formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// JSONExporter writes records as a JSON array.
type JSONExporter struct{}

func (JSONExporter) ContentType() string { return "application/json" }

func (JSONExporter) Extension() string { return "json" }

func (JSONExporter) Write(w io.Writer, iocs []domain.IOC) error {
	if iocs == nil {
		iocs = []domain.IOC{}
	}
	if err := json.NewEncoder(w).Encode(iocs); err != nil {
		return fmt.Errorf("encode json export: %w", err)
	}
	return nil
}

var csvHeader = []string{"id", "value", "type", "source", "timestamp", "tags", "threat_level", "confidence"}

// CSVExporter writes one row per record; tags are joined with ';'.
type CSVExporter struct{}

func (CSVExporter) ContentType() string { return "text/csv" }

func (CSVExporter) Extension() string { return "csv" }

func (CSVExporter) Write(w io.Writer, iocs []domain.IOC) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, ioc := range iocs {
		row := []string{
			ioc.ID,
			ioc.Value,
			string(ioc.Type),
			ioc.Source,
			ioc.Timestamp.UTC().Format(time.RFC3339),
			strings.Join(ioc.Tags, ";"),
			string(ioc.ThreatLevel),
			strconv.Itoa(domain.ConfidenceScore(ioc)),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
