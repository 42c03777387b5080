package provider

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/hive-corporation/ctiwatch/internal/adapter/httpclient"
	"github.com/hive-corporation/ctiwatch/internal/core/domain"
)

const feodoBlocklistURL = "https://feodotracker.abuse.ch/downloads/ipblocklist_recommended.txt"

// SimpleListProvider reads plain-text blocklists with one indicator per line
// and '#' comments, such as the Feodo Tracker botnet C2 list.
type SimpleListProvider struct {
	client       httpclient.Doer
	normalizer   *domain.Normalizer
	url          string
	providerName string
	tags         []string
	maxRecords   int
}

func NewSimpleListProvider(client httpclient.Doer, normalizer *domain.Normalizer, providerName, url string, tags []string, maxRecords int) *SimpleListProvider {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &SimpleListProvider{
		client:       client,
		normalizer:   normalizer,
		providerName: providerName,
		url:          url,
		tags:         tags,
		maxRecords:   maxRecords,
	}
}

// NewFeodoProvider reads the Feodo Tracker recommended IP blocklist.
func NewFeodoProvider(client httpclient.Doer, normalizer *domain.Normalizer, maxRecords int) *SimpleListProvider {
	return NewSimpleListProvider(client, normalizer, "Feodo Tracker", feodoBlocklistURL, []string{"botnet", "c2"}, maxRecords)
}

func (p *SimpleListProvider) Name() string {
	return p.providerName
}

func (p *SimpleListProvider) FetchIOCS(ctx context.Context) ([]domain.IOC, error) {
	req, err := newGET(ctx, p.Name(), p.url)
	if err != nil {
		return nil, err
	}
	body, err := fetch(p.client, p.Name(), req)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	c := newCollector(p.normalizer, p.Name(), p.maxRecords)
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}

		if idx := strings.Index(line, "#"); idx != -1 {
			line = strings.TrimSpace(line[:idx])
		}

		if !c.add(domain.RawIndicator{Value: line, Tags: p.tags}) {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, &domain.FetchError{Source: p.Name(), Cause: fmt.Errorf("scanner error: %w", err)}
	}
	return c.result(), nil
}
