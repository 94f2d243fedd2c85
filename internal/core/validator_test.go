package core

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cityflow/internal/types"
)

type docParams struct {
	Date string `json:"date" validate:"required,isodate"`
	Name string `json:"name" validate:"required,resultname"`
}

func appErrorCode(t *testing.T, err error) types.ErrorCode {
	t.Helper()
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr), "expected *types.AppError, got %T", err)
	return appErr.Code
}

func TestValidator_ValidateStruct(t *testing.T) {
	v := NewValidator(discardLogger())

	tests := []struct {
		name   string
		params docParams
		want   types.ErrorCode
	}{
		{"valid", docParams{Date: "2024-01-15", Name: "debit_horaire"}, ""},
		{"missing date", docParams{Name: "dmja"}, types.ErrCodeValidationInvalidDate},
		{"french date", docParams{Date: "15/01/2024", Name: "dmja"}, types.ErrCodeValidationInvalidDate},
		{"impossible date", docParams{Date: "2024-02-30", Name: "dmja"}, types.ErrCodeValidationInvalidDate},
		{"upper case name", docParams{Date: "2024-01-15", Name: "DMJA"}, types.ErrCodeValidationInvalidName},
		{"path traversal name", docParams{Date: "2024-01-15", Name: "../etc"}, types.ErrCodeValidationInvalidName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateStruct(tt.params)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.want, appErrorCode(t, err))
		})
	}
}

func TestValidator_ErrorDetails(t *testing.T) {
	v := NewValidator(nil)

	err := v.ValidateStruct(docParams{Date: "yesterday", Name: "dmja"})

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "date", appErr.Details["field"])
	assert.Equal(t, "yesterday", appErr.Details["value"])
	assert.Equal(t, "date must be a YYYY-MM-DD date", appErr.Message)
	assert.Equal(t, http.StatusBadRequest, appErr.HTTPStatus())
}

func TestValidator_ParseListQuery(t *testing.T) {
	v := NewValidator(discardLogger())

	tests := []struct {
		query     string
		wantLimit int
		wantErr   bool
	}{
		{"", DefaultListLimit, false},
		{"?limit=1", 1, false},
		{"?limit=200", 200, false},
		{"?limit=0", 0, true},
		{"?limit=201", 0, true},
		{"?limit=ten", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			q, err := v.ParseListQuery(httptest.NewRequest(http.MethodGet, "/v1/metrics"+tt.query, nil))
			if tt.wantErr {
				assert.Equal(t, types.ErrCodeValidationInvalidLimit, appErrorCode(t, err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, q.Limit)
		})
	}
}
