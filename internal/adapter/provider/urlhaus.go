package provider

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hive-corporation/ctiwatch/internal/adapter/httpclient"
	"github.com/hive-corporation/ctiwatch/internal/core/domain"
)

const urlHausCSV = "https://urlhaus.abuse.ch/downloads/csv_recent/"

type URLHausProvider struct {
	client     httpclient.Doer
	normalizer *domain.Normalizer
	url        string
	maxRecords int
}

func NewURLHausProvider(client httpclient.Doer, normalizer *domain.Normalizer, maxRecords int) *URLHausProvider {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &URLHausProvider{
		client:     client,
		normalizer: normalizer,
		url:        urlHausCSV,
		maxRecords: maxRecords,
	}
}

func (p *URLHausProvider) Name() string {
	return "URLhaus"
}

// FetchIOCS reads the recent-URLs CSV. Each URL also yields a record for its
// host so that searching an IP finds the URLs served from it.
func (p *URLHausProvider) FetchIOCS(ctx context.Context) ([]domain.IOC, error) {
	req, err := newGET(ctx, p.Name(), p.url)
	if err != nil {
		return nil, err
	}
	body, err := fetch(p.client, p.Name(), req)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	reader := csv.NewReader(body)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1

	c := newCollector(p.normalizer, p.Name(), p.maxRecords)

	// The cap counts emitted records, host records included.
	for !c.full() {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &domain.FetchError{Source: p.Name(), Cause: fmt.Errorf("read csv: %w", err)}
		}
		// 0: id, 1: dateadded, 2: url, 3: url_status, 4: last_online,
		// 5: threat, 6: tags, 7: urlhaus_link, 8: reporter
		if len(record) < 7 {
			continue
		}

		before := len(c.iocs)
		c.add(domain.RawIndicator{
			Value:      record[2],
			Type:       "url",
			Tags:       strings.Split(record[6], ","),
			Attributes: domain.Attributes{ThreatType: record[5], Reference: pick(record, 7)},
		})
		if len(c.iocs) == before {
			continue
		}
		// ExtractIOCComponents returns the URL record first.
		for _, host := range domain.ExtractIOCComponents(c.iocs[before])[1:] {
			if !c.push(host) {
				break
			}
		}
	}

	return c.result(), nil
}

func pick(record []string, i int) string {
	if i < len(record) {
		return record[i]
	}
	return ""
}
