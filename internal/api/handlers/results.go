// Package handlers serves the persisted daily results: metrics,
// correlations and reports, addressed by date and document name.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cityflow/internal/core"
	"cityflow/internal/types"
)

// ResultReader is the read side of the result store. Both the Postgres
// repository and the embedded store satisfy it.
type ResultReader interface {
	Get(ctx context.Context, kind types.DocumentKind, date, name string) (types.Document, error)
	ListByDate(ctx context.Context, kind types.DocumentKind, date string) ([]types.Document, error)
	ListDates(ctx context.Context, kind types.DocumentKind, limit int) ([]string, error)
	ListNames(ctx context.Context, kind types.DocumentKind) ([]string, error)
}

// ResultsHandler maps the /v1 read routes onto a ResultReader.
type ResultsHandler struct {
	store     ResultReader
	validator *core.Validator
	logger    *slog.Logger
}

func NewResultsHandler(store ResultReader, val *core.Validator, logger *slog.Logger) *ResultsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if val == nil {
		val = core.NewValidator(logger)
	}
	return &ResultsHandler{store: store, validator: val, logger: logger}
}

// RegisterRoutes mounts the read endpoints. Static segments such as
// /metrics/names take precedence over {date}.
func (h *ResultsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/metrics", h.listDates(types.KindMetric))
	r.Get("/metrics/names", h.HandleMetricNames)
	r.Get("/metrics/{date}", h.HandleMetricsForDate)
	r.Get("/metrics/{date}/{name}", h.HandleMetric)

	r.Get("/correlations", h.listDates(types.KindCorrelations))
	r.Get("/correlations/{date}", h.HandleCorrelationsForDate)
	r.Get("/correlations/{date}/{name}", h.HandleCorrelation)

	r.Get("/reports", h.listDates(types.KindReport))
	r.Get("/reports/names", h.HandleReportNames)
	r.Get("/reports/{date}", h.HandleReportsForDate)
	r.Get("/reports/{date}/{name}", h.HandleReport)
}

type dateParams struct {
	Date string `json:"date" validate:"required,isodate"`
}

type documentParams struct {
	Date string `json:"date" validate:"required,isodate"`
	Name string `json:"name" validate:"required,resultname"`
}

type datesResponse struct {
	Dates []string `json:"dates"`
}

type metricNamesResponse struct {
	MetricNames []types.MetricName `json:"metric_names"`
}

type metricsResponse struct {
	Date         string           `json:"date"`
	MetricsCount int              `json:"metrics_count"`
	Metrics      []types.Document `json:"metrics"`
}

type metricResponse struct {
	Date       string          `json:"date"`
	MetricName string          `json:"metric_name"`
	Data       json.RawMessage `json:"data"`
	Timestamp  time.Time       `json:"timestamp"`
}

type correlationEntry struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

type correlationsResponse struct {
	Date              string             `json:"date"`
	CorrelationsCount int                `json:"correlations_count"`
	Correlations      []correlationEntry `json:"correlations"`
	Timestamp         time.Time          `json:"timestamp"`
}

type correlationResponse struct {
	Date            string          `json:"date"`
	CorrelationName string          `json:"correlation_name"`
	Data            json.RawMessage `json:"data"`
	Timestamp       time.Time       `json:"timestamp"`
}

type reportNamesResponse struct {
	ReportTypes []string `json:"report_types"`
}

type reportsResponse struct {
	Date         string           `json:"date"`
	ReportsCount int              `json:"reports_count"`
	Reports      []types.Document `json:"reports"`
}

type reportResponse struct {
	Date       string          `json:"date"`
	ReportType string          `json:"report_type"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
}

func (h *ResultsHandler) parseDate(r *http.Request) (string, error) {
	p := dateParams{Date: chi.URLParam(r, "date")}
	if err := h.validator.ValidateStruct(p); err != nil {
		return "", err
	}
	return p.Date, nil
}

func (h *ResultsHandler) parseDocument(r *http.Request, name string) (documentParams, error) {
	p := documentParams{Date: chi.URLParam(r, "date"), Name: name}
	if err := h.validator.ValidateStruct(p); err != nil {
		return p, err
	}
	return p, nil
}

// listDates handles GET /v1/{kind}?limit=N, newest first.
func (h *ResultsHandler) listDates(kind types.DocumentKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := h.validator.ParseListQuery(r)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		dates, err := h.store.ListDates(r.Context(), kind, q.Limit)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "failed to list dates", "kind", kind, "error", err)
			core.Error(w, r, err)
			return
		}
		core.JSON(w, r, http.StatusOK, datesResponse{Dates: dates})
	}
}

// HandleMetricNames lists every metric the engine can produce.
func (h *ResultsHandler) HandleMetricNames(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, metricNamesResponse{MetricNames: types.AllMetrics()})
}

// HandleMetricsForDate handles GET /v1/metrics/{date}.
func (h *ResultsHandler) HandleMetricsForDate(w http.ResponseWriter, r *http.Request) {
	date, err := h.parseDate(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	docs, err := h.listByDate(r, types.KindMetric, date)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, metricsResponse{Date: date, MetricsCount: len(docs), Metrics: docs})
}

// HandleMetric handles GET /v1/metrics/{date}/{name}.
func (h *ResultsHandler) HandleMetric(w http.ResponseWriter, r *http.Request) {
	p, err := h.parseDocument(r, chi.URLParam(r, "name"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	doc, err := h.store.Get(r.Context(), types.KindMetric, p.Date, p.Name)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, metricResponse{
		Date:       doc.Date,
		MetricName: doc.Name,
		Data:       doc.Data,
		Timestamp:  doc.UpdatedAt,
	})
}

// HandleCorrelationsForDate handles GET /v1/correlations/{date}. The
// correlations of a day are one document; entries come back in canonical
// order.
func (h *ResultsHandler) HandleCorrelationsForDate(w http.ResponseWriter, r *http.Request) {
	date, err := h.parseDate(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	doc, byName, err := h.correlations(r, date)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	entries := make([]correlationEntry, 0, len(byName))
	for _, name := range types.AllCorrelations() {
		if data, ok := byName[string(name)]; ok {
			entries = append(entries, correlationEntry{Name: string(name), Data: data})
		}
	}
	core.JSON(w, r, http.StatusOK, correlationsResponse{
		Date:              date,
		CorrelationsCount: len(entries),
		Correlations:      entries,
		Timestamp:         doc.UpdatedAt,
	})
}

// HandleCorrelation handles GET /v1/correlations/{date}/{name}.
func (h *ResultsHandler) HandleCorrelation(w http.ResponseWriter, r *http.Request) {
	p, err := h.parseDocument(r, chi.URLParam(r, "name"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	doc, byName, err := h.correlations(r, p.Date)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	data, ok := byName[p.Name]
	if !ok {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeNotFoundCorrelation,
			"correlation not found", nil, map[string]any{"date": p.Date, "name": p.Name}))
		return
	}
	core.JSON(w, r, http.StatusOK, correlationResponse{
		Date:            p.Date,
		CorrelationName: p.Name,
		Data:            data,
		Timestamp:       doc.UpdatedAt,
	})
}

func (h *ResultsHandler) correlations(r *http.Request, date string) (types.Document, map[string]json.RawMessage, error) {
	doc, err := h.store.Get(r.Context(), types.KindCorrelations, date, types.CorrelationsDocument)
	if err != nil {
		return doc, nil, err
	}
	var byName map[string]json.RawMessage
	if err := json.Unmarshal(doc.Data, &byName); err != nil {
		h.logger.ErrorContext(r.Context(), "corrupt correlations document", "date", date, "error", err)
		return doc, nil, types.NewAppError(types.ErrCodeInternalCodec, "failed to decode correlations", err)
	}
	return doc, byName, nil
}

// HandleReportsForDate handles GET /v1/reports/{date}. ?report_type=
// narrows the answer to one report, like /v1/reports/{date}/{name}.
func (h *ResultsHandler) HandleReportsForDate(w http.ResponseWriter, r *http.Request) {
	if reportType := r.URL.Query().Get("report_type"); reportType != "" {
		h.writeReport(w, r, reportType)
		return
	}
	date, err := h.parseDate(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	docs, err := h.listByDate(r, types.KindReport, date)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, reportsResponse{Date: date, ReportsCount: len(docs), Reports: docs})
}

// HandleReportNames lists the report types stored for at least one day.
func (h *ResultsHandler) HandleReportNames(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.ListNames(r.Context(), types.KindReport)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list report types", "error", err)
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, reportNamesResponse{ReportTypes: names})
}

// HandleReport handles GET /v1/reports/{date}/{name}.
func (h *ResultsHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	h.writeReport(w, r, chi.URLParam(r, "name"))
}

func (h *ResultsHandler) writeReport(w http.ResponseWriter, r *http.Request, name string) {
	p, err := h.parseDocument(r, name)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !types.ReportName(p.Name).Valid() {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeNotFoundReport,
			"unknown report type", nil, map[string]any{"date": p.Date, "name": p.Name}))
		return
	}
	doc, err := h.store.Get(r.Context(), types.KindReport, p.Date, p.Name)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, reportResponse{
		Date:       doc.Date,
		ReportType: doc.Name,
		Payload:    doc.Data,
		Timestamp:  doc.UpdatedAt,
	})
}

// listByDate returns the documents of a day, or not_found_date when there
// are none.
func (h *ResultsHandler) listByDate(r *http.Request, kind types.DocumentKind, date string) ([]types.Document, error) {
	docs, err := h.store.ListByDate(r.Context(), kind, date)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list documents", "kind", kind, "date", date, "error", err)
		return nil, err
	}
	if len(docs) == 0 {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeNotFoundDate,
			"no results for date", nil, map[string]any{"kind": string(kind), "date": date})
	}
	return docs, nil
}
