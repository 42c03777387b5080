package provider

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/hive-corporation/ctiwatch/internal/adapter/httpclient"
	"github.com/hive-corporation/ctiwatch/internal/core/domain"
)

const spamhausDropURL = "https://www.spamhaus.org/drop/drop.txt"

// SpamhausProvider reads the DROP list: one "CIDR ; SBL reference" per line,
// with ';' comment lines.
type SpamhausProvider struct {
	client     httpclient.Doer
	normalizer *domain.Normalizer
	url        string
}

func NewSpamhausProvider(client httpclient.Doer, normalizer *domain.Normalizer) *SpamhausProvider {
	return &SpamhausProvider{
		client:     client,
		normalizer: normalizer,
		url:        spamhausDropURL,
	}
}

func (p *SpamhausProvider) Name() string {
	return "Spamhaus"
}

func (p *SpamhausProvider) FetchIOCS(ctx context.Context) ([]domain.IOC, error) {
	req, err := newGET(ctx, p.Name(), p.url)
	if err != nil {
		return nil, err
	}
	body, err := fetch(p.client, p.Name(), req)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	c := newCollector(p.normalizer, p.Name(), 0)
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}

		cidr, reference, _ := strings.Cut(line, ";")
		reference = strings.TrimSpace(reference)
		if reference == "" {
			reference = "N/A"
		}

		c.add(domain.RawIndicator{
			Value:      strings.TrimSpace(cidr),
			Type:       "ip_range",
			Attributes: domain.Attributes{Reference: reference},
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, &domain.FetchError{Source: p.Name(), Cause: fmt.Errorf("read list: %w", err)}
	}
	return c.result(), nil
}
