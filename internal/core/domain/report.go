package domain

import (
	"fmt"
	"strings"
	"time"
)

type AdapterStatus string

const (
	StatusOK      AdapterStatus = "ok"
	StatusSkipped AdapterStatus = "skipped"
	StatusFailed  AdapterStatus = "failed"
	// StatusPartial means the fetch worked but some records could not be stored.
	// When none could, the adapter is failed instead.
	StatusPartial AdapterStatus = "partial"
)

// AdapterResult is the outcome of one adapter inside an ingestion run.
type AdapterResult struct {
	Source     string        `json:"source"`
	Status     AdapterStatus `json:"status"`
	Fetched    int           `json:"fetched"`
	Inserted   int           `json:"inserted"`
	Duplicates int           `json:"duplicates"`
	Failed     int           `json:"failed"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// RunReport summarises a full ingestion run across all adapters.
type RunReport struct {
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Results    []AdapterResult `json:"results"`
}

// TotalNew is the number of records inserted across all adapters.
func (r RunReport) TotalNew() int {
	total := 0
	for _, res := range r.Results {
		total += res.Inserted
	}
	return total
}

// TotalDuplicates is the number of already-known records across all adapters.
func (r RunReport) TotalDuplicates() int {
	total := 0
	for _, res := range r.Results {
		total += res.Duplicates
	}
	return total
}

// FailedSources lists the failed adapters: fetch errors, panics and runs
// where no record reached the store.
func (r RunReport) FailedSources() []AdapterResult {
	var failed []AdapterResult
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			failed = append(failed, res)
		}
	}
	return failed
}

func (r RunReport) HasFailures() bool {
	return len(r.FailedSources()) > 0
}

func (r RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Summary renders a one-line-per-adapter text block for logs and notifications.
func (r RunReport) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ingestion finished in %s: %d new, %d duplicates\n",
		r.Duration().Round(time.Millisecond), r.TotalNew(), r.TotalDuplicates())
	for _, res := range r.Results {
		fmt.Fprintf(&b, "  %-16s %-8s fetched=%d new=%d dup=%d failed=%d",
			res.Source, res.Status, res.Fetched, res.Inserted, res.Duplicates, res.Failed)
		if res.Error != "" {
			fmt.Fprintf(&b, " error=%q", res.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}
