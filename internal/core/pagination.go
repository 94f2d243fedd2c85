package core

import (
	"net/http"
	"strconv"

	"cityflow/internal/types"
)

const (
	DefaultListLimit = 25
	MaxListLimit     = 200
)

// ListQuery is the query string of the date listing endpoints.
type ListQuery struct {
	Limit int `json:"limit" validate:"min=1,max=200"`
}

// ParseListQuery reads ?limit=, defaulting to DefaultListLimit.
func (v *Validator) ParseListQuery(r *http.Request) (ListQuery, error) {
	q := ListQuery{Limit: DefaultListLimit}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidLimit,
				"limit must be an integer", err, map[string]any{"field": "limit", "value": raw})
		}
		q.Limit = n
	}
	if err := v.ValidateStruct(q); err != nil {
		return q, err
	}
	return q, nil
}
