package domain

import "time"

// DefectSummary is one merged defect returned by the defect service.
// MergeKey is its identity.
type DefectSummary struct {
	CID             int64
	MergeKey        string
	Classification  string
	Severity        string
	Impact          string
	Action          string
	Component       string
	Checker         string
	DisplayType     string
	DisplayCategory string
	Function        string
	File            string
	Line            int
	FirstDetected   time.Time
}

// FetchProgress reports how many defects of a stream have been paged in so far.
type FetchProgress struct {
	Fetched int
	Total   int
}

// Done reports whether every defect announced by the server was requested.
func (p FetchProgress) Done() bool {
	return p.Fetched >= p.Total
}
