package types

import (
	"encoding/json"
	"time"
)

// DocumentKind partitions persisted results.
type DocumentKind string

const (
	KindMetric       DocumentKind = "metric"
	KindCorrelations DocumentKind = "correlations"
	KindReport       DocumentKind = "report"
)

// CorrelationsDocument is the document name under which all correlations of
// a day are stored together.
const CorrelationsDocument = "correlations"

// NotFoundCode returns the error code used when a document of this kind is
// missing.
func (k DocumentKind) NotFoundCode() ErrorCode {
	switch k {
	case KindMetric:
		return ErrCodeNotFoundMetric
	case KindCorrelations:
		return ErrCodeNotFoundCorrelation
	case KindReport:
		return ErrCodeNotFoundReport
	}
	return ErrCodeNotFoundDate
}

// Document is one persisted result. Data holds the JSON payload.
type Document struct {
	Kind      DocumentKind    `json:"-"`
	Date      string          `json:"date"`
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}
