package repository

import (
	"sort"
	"strings"
	"time"

	"github.com/hive-corporation/ctiwatch/internal/core/domain"
	"github.com/hive-corporation/ctiwatch/internal/core/ports"
)

// The embedded stores (memory, bolt) keep no secondary indexes, so queries
// scan the full record set and aggregate here.

func matches(ioc *domain.IOC, f ports.Filter) bool {
	if f.Type != "" && ioc.Type != f.Type {
		return false
	}
	if f.Source != "" && ioc.Source != f.Source {
		return false
	}
	if f.Tag != "" && !ioc.HasTag(f.Tag) {
		return false
	}
	if f.ValueContains != "" && !strings.Contains(strings.ToLower(ioc.Value), strings.ToLower(f.ValueContains)) {
		return false
	}
	if !f.Since.IsZero() && ioc.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

func filterAll(all []domain.IOC, f ports.Filter) []domain.IOC {
	out := make([]domain.IOC, 0, len(all))
	for i := range all {
		if matches(&all[i], f) {
			out = append(out, all[i])
		}
	}
	return out
}

// newestFirst orders by ingestion time descending, breaking ties on id so
// pagination is stable.
func newestFirst(iocs []domain.IOC) {
	sort.Slice(iocs, func(i, j int) bool {
		if !iocs[i].Timestamp.Equal(iocs[j].Timestamp) {
			return iocs[i].Timestamp.After(iocs[j].Timestamp)
		}
		return iocs[i].ID < iocs[j].ID
	})
}

func paginate(iocs []domain.IOC, page ports.Page) []domain.IOC {
	if page.Skip > 0 {
		if page.Skip >= len(iocs) {
			return []domain.IOC{}
		}
		iocs = iocs[page.Skip:]
	}
	if page.Limit > 0 && page.Limit < len(iocs) {
		iocs = iocs[:page.Limit]
	}
	return iocs
}

func fieldValue(ioc *domain.IOC, field ports.GroupField) string {
	switch field {
	case ports.GroupByType:
		return string(ioc.Type)
	case ports.GroupBySource:
		return ioc.Source
	case ports.GroupByThreatLevel:
		return string(ioc.ThreatLevel)
	default:
		return ""
	}
}

func countBy(all []domain.IOC, field ports.GroupField) []ports.GroupCount {
	counts := make(map[string]int)
	for i := range all {
		if key := fieldValue(&all[i], field); key != "" {
			counts[key]++
		}
	}

	out := make([]ports.GroupCount, 0, len(counts))
	for key, n := range counts {
		out = append(out, ports.GroupCount{Key: key, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func distinct(all []domain.IOC, field ports.GroupField) []string {
	seen := make(map[string]bool)
	out := []string{}
	for i := range all {
		key := fieldValue(&all[i], field)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

const dayLayout = "2006-01-02"

func countByDateAndType(all []domain.IOC, from, to time.Time) []ports.DateTypeCount {
	type bucket struct {
		date string
		typ  domain.IOCType
	}
	counts := make(map[bucket]int)
	for i := range all {
		ts := all[i].Timestamp
		if ts.Before(from) || ts.After(to) {
			continue
		}
		counts[bucket{date: ts.UTC().Format(dayLayout), typ: all[i].Type}]++
	}

	out := make([]ports.DateTypeCount, 0, len(counts))
	for b, n := range counts {
		out = append(out, ports.DateTypeCount{Date: b.date, Type: b.typ, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Type < out[j].Type
	})
	return out
}

func applyTag(ioc *domain.IOC, tag string, op ports.TagOp) {
	switch op {
	case ports.TagAdd:
		if !ioc.HasTag(tag) {
			ioc.Tags = append(ioc.Tags, tag)
		}
	case ports.TagRemove:
		kept := ioc.Tags[:0]
		for _, t := range ioc.Tags {
			if t != tag {
				kept = append(kept, t)
			}
		}
		ioc.Tags = kept
	}
}

func clone(ioc domain.IOC) domain.IOC {
	if ioc.Tags != nil {
		ioc.Tags = append([]string(nil), ioc.Tags...)
	} else {
		ioc.Tags = []string{}
	}
	return ioc
}
