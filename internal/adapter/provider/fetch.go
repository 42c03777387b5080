package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/hive-corporation/ctiwatch/internal/adapter/httpclient"
	"github.com/hive-corporation/ctiwatch/internal/core/domain"
)

// DefaultMaxRecords caps feeds that have no limit parameter of their own.
const DefaultMaxRecords = 500

const userAgent = "ctiwatch/1.0 (+https://github.com/hive-corporation/ctiwatch)"

// fetch performs req and returns the body of a 2xx response. Anything else
// becomes a *domain.FetchError attributed to source.
func fetch(client httpclient.Doer, source string, req *http.Request) (io.ReadCloser, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) {
			return nil, &domain.FetchError{Source: source, StatusCode: statusErr.StatusCode}
		}
		return nil, &domain.FetchError{Source: source, Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &domain.FetchError{Source: source, StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}

// fetchJSON decodes a 2xx JSON body into v.
func fetchJSON(client httpclient.Doer, source string, req *http.Request, v any) error {
	req.Header.Set("Accept", "application/json")
	body, err := fetch(client, source, req)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := json.NewDecoder(body).Decode(v); err != nil {
		return &domain.FetchError{Source: source, Cause: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func newGET(ctx context.Context, source, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &domain.FetchError{Source: source, Cause: err}
	}
	return req, nil
}

// collector normalizes raw items for one feed, dropping the ones the
// normalizer rejects, and stops at max. Drops are logged at debug level on
// the global logger.
type collector struct {
	normalizer *domain.Normalizer
	source     string
	max        int
	iocs       []domain.IOC
	dropped    int
	log        *zap.Logger
}

func newCollector(n *domain.Normalizer, source string, max int) *collector {
	return &collector{
		normalizer: n,
		source:     source,
		max:        max,
		iocs:       []domain.IOC{},
		log:        zap.L().With(zap.String("source", source)),
	}
}

func (c *collector) full() bool {
	return c.max > 0 && len(c.iocs) >= c.max
}

// add normalizes raw and reports whether the collector can take more.
func (c *collector) add(raw domain.RawIndicator) bool {
	if c.full() {
		return false
	}
	ioc, err := c.normalizer.Normalize(raw, c.source)
	if err != nil {
		c.dropped++
		c.log.Debug("indicator dropped", zap.String("value", raw.Value), zap.Error(err))
		return true
	}
	c.iocs = append(c.iocs, ioc)
	return !c.full()
}

// push appends an already normalized record.
func (c *collector) push(ioc domain.IOC) bool {
	if c.full() {
		return false
	}
	c.iocs = append(c.iocs, ioc)
	return !c.full()
}

// result returns what was collected and logs the drop count.
func (c *collector) result() []domain.IOC {
	if c.dropped > 0 {
		c.log.Debug("feed items dropped by normalizer",
			zap.Int("dropped", c.dropped),
			zap.Int("kept", len(c.iocs)))
	}
	return c.iocs
}
