package domain

import "time"

// Publication records one day's file landing in the object store.
type Publication struct {
	RunID       string    `json:"run_id"`
	Day         DayLabel  `json:"day"`
	Bucket      string    `json:"bucket,omitempty"`
	ObjectKey   string    `json:"object_key"`
	AliasKey    string    `json:"alias_key"`
	Records     int       `json:"records"`
	Highlighted int       `json:"highlighted"`
	Bytes       int       `json:"bytes"`
	PublishedAt time.Time `json:"published_at"`
}

// DayOutcome is the result of processing one forecast day.
type DayOutcome struct {
	Day         DayLabel      `json:"day"`
	Published   bool          `json:"published"`
	Publication *Publication  `json:"publication,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// RunSummary describes one pipeline run across all forecast days.
type RunSummary struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Days       []DayOutcome `json:"days"`
}

// Succeeded returns the number of days that were published.
func (s RunSummary) Succeeded() int {
	n := 0
	for _, d := range s.Days {
		if d.Published {
			n++
		}
	}
	return n
}

// Failed returns the number of days that were skipped.
func (s RunSummary) Failed() int {
	return len(s.Days) - s.Succeeded()
}
