package types

import "strings"

// QualityReport collects the outcome of the checks run against one dataset.
// Messages are prefixed with their severity ("ok:", "info:", "warning:",
// "error:"); any error message marks the report as failed.
type QualityReport struct {
	Passed   bool     `json:"passed"`
	Messages []string `json:"messages"`
}

// NewQualityReport returns a passing report with no messages.
func NewQualityReport() QualityReport {
	return QualityReport{Passed: true, Messages: []string{}}
}

// Add appends a message and downgrades Passed for error-severity messages.
func (q *QualityReport) Add(message string) {
	q.Messages = append(q.Messages, message)
	if strings.HasPrefix(message, "error") {
		q.Passed = false
	}
}

// Merge folds other into q. The result passes only if both pass.
func (q *QualityReport) Merge(other QualityReport) {
	q.Messages = append(q.Messages, other.Messages...)
	q.Passed = q.Passed && other.Passed
}

// Warnings returns the number of warning messages.
func (q QualityReport) Warnings() int {
	n := 0
	for _, m := range q.Messages {
		if strings.HasPrefix(m, "warning") {
			n++
		}
	}
	return n
}

// DatasetQuality is one line of the per-run quality summary.
type DatasetQuality struct {
	Dataset  string         `json:"dataset"`
	Passed   bool           `json:"passed"`
	Messages []string       `json:"messages"`
	Rows     int            `json:"rows"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MetricQuality is the outcome of one metric computation. A metric that
// failed to compute carries an error message and Passed false; an empty
// result carries a warning.
type MetricQuality struct {
	Metric   string   `json:"metric"`
	Passed   bool     `json:"passed"`
	Messages []string `json:"messages"`
	Rows     int      `json:"rows"`
}
