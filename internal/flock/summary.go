package flock

import (
	"fmt"
	"math"
	"time"

	"github.com/wesleyorama2/mobu/internal/business"
	"github.com/wesleyorama2/mobu/internal/metrics"
	"github.com/wesleyorama2/mobu/internal/monkey"
)

// Summary is a read-only projection of a flock, recomputed on demand.
type Summary struct {
	Name         string        `json:"name"`
	Business     business.Kind `json:"business"`
	Start        *time.Time    `json:"start"`
	MonkeyCount  int           `json:"count"`
	SuccessCount int64         `json:"success_count"`
	FailureCount int64         `json:"failure_count"`
}

// Detail is the full view of one flock.
type Detail struct {
	Config  Config                          `json:"config"`
	Summary Summary                         `json:"summary"`
	Monkeys []monkey.Data                   `json:"monkeys"`
	Phases  map[string]metrics.LatencyStats `json:"phases"`
	Overall *metrics.Snapshot               `json:"overall,omitempty"`
}

// SuccessRate formats the success percentage with two decimals. With no
// results it is 100.00. Any failure caps the rate at 99.99 so a flock
// with failures never reads as fully successful.
func SuccessRate(success, failure int64) string {
	total := success + failure
	if total == 0 {
		return "100.00"
	}
	pct := math.Round(float64(success)/float64(total)*100*100) / 100
	if failure > 0 && pct > 99.99 {
		pct = 99.99
	}
	return fmt.Sprintf("%.2f", pct)
}

// StatusLine renders the summary in the status digest format:
//
//	*<name>*: <count> monkey(s) started <YYYY-MM-DD> with <failures> failure(s) (<pct>% success)
func (s Summary) StatusLine() string {
	started := "(not started)"
	if s.Start != nil {
		started = "started " + s.Start.UTC().Format("2006-01-02")
	}
	return fmt.Sprintf("*%s*: %d monkey(s) %s with %d failure(s) (%s%% success)",
		s.Name, s.MonkeyCount, started, s.FailureCount, SuccessRate(s.SuccessCount, s.FailureCount))
}
