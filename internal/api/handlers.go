package api

import (
	stdjson "encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/lo"

	obskit "github.com/rudderlabs/rudder-observability-kit/go/labels"

	"github.com/rudderlabs/marketo-import-proxy/internal/marketo"
	"github.com/rudderlabs/marketo-import-proxy/internal/model"
)

const (
	parseLeadsPromptFmt = "Extract the lead records from the following text. " +
		"Respond only with JSON matching the requested schema.\n\nText:\n%s"
	describeTitlePromptFmt = "Write a concise one or two sentence marketing description " +
		"for a program titled %q. Respond with the description only."
)

type (
	errorResponse struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}

	importResponse struct {
		Status      string   `json:"status"`
		JobID       string   `json:"jobId"`
		Label       string   `json:"label,omitempty"`
		SuccessRows int64    `json:"successRows"`
		ErrorRows   int64    `json:"errorRows"`
		Warnings    []string `json:"warnings,omitempty"`
	}

	singleLeadRequest struct {
		Leads       []map[string]any `json:"leads"`
		LookupField string           `json:"lookupField,omitempty"`
		ProgramName string           `json:"programName,omitempty"`
	}
	singleLeadResponse struct {
		Status string             `json:"status"`
		Result stdjson.RawMessage `json:"result"`
	}

	fieldsResponse struct {
		Status string  `json:"status"`
		Fields []field `json:"fields"`
	}
	field struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
		DataType    string `json:"dataType"`
	}

	programsResponse struct {
		Status   string    `json:"status"`
		Programs []program `json:"programs"`
	}
	program struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}

	parseLeadsRequest struct {
		Text       string             `json:"text"`
		JSONSchema stdjson.RawMessage `json:"jsonSchema"`
	}
	parseLeadsResponse struct {
		Status string             `json:"status"`
		Data   stdjson.RawMessage `json:"data"`
	}

	describeTitleRequest struct {
		Title string `json:"title"`
	}
	describeTitleResponse struct {
		Status      string `json:"status"`
		Description string `json:"description"`
	}
)

// importHandler runs the bulk import orchestration. The terminal job status
// becomes the envelope status, Failed and Cancelled included: the caller gets
// the row counts either way.
func (a *Api) importHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.LogRequest(r)
	defer func() { _ = r.Body.Close() }()

	var req model.ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeErr(w, &model.ClientInputError{Message: "invalid JSON body"})
		return
	}
	if req.Content == "" {
		a.writeErr(w, &model.ClientInputError{Message: "content is required"})
		return
	}
	if req.DedupeKey == "" {
		a.writeErr(w, &model.ClientInputError{Message: "dedupeKey is required"})
		return
	}

	outcome, err := a.importer.Run(r.Context(), req)
	if err != nil {
		a.logger.Errorn("bulk import failed", obskit.Error(err))
		a.writeErr(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, importResponse{
		Status:      outcome.Status,
		JobID:       outcome.BatchID,
		Label:       req.Label,
		SuccessRows: outcome.RowsProcessed,
		ErrorRows:   outcome.RowsFailed,
		Warnings:    outcome.Warnings,
	})
}

func (a *Api) singleLeadHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.LogRequest(r)
	defer func() { _ = r.Body.Close() }()

	var req singleLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeErr(w, &model.ClientInputError{Message: "invalid JSON body"})
		return
	}
	if len(req.Leads) == 0 {
		a.writeErr(w, &model.ClientInputError{Message: "leads must be a non-empty array"})
		return
	}

	token, err := a.marketo.AccessToken(r.Context())
	if err != nil {
		a.writeErr(w, err)
		return
	}

	result, err := a.marketo.UpsertLeads(r.Context(), token, marketo.UpsertLeadsRequest{
		Leads:       req.Leads,
		LookupField: req.LookupField,
		ProgramName: req.ProgramName,
	})
	if err != nil {
		a.logger.Errorn("lead upsert failed", obskit.Error(err))
		a.writeErr(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, singleLeadResponse{Status: "success", Result: result})
}

// fieldsHandler returns the lead schema filtered down to fields addressable
// through the ordinary record API.
func (a *Api) fieldsHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.LogRequest(r)

	token, err := a.marketo.AccessToken(r.Context())
	if err != nil {
		a.writeErr(w, err)
		return
	}

	leadFields, err := a.marketo.LeadFields(r.Context(), token)
	if err != nil {
		a.logger.Errorn("describing lead fields failed", obskit.Error(err))
		a.writeErr(w, err)
		return
	}

	usable := lo.Filter(leadFields, func(f marketo.LeadField, _ int) bool {
		return f.REST != nil && f.REST.Name != ""
	})
	fields := lo.Map(usable, func(f marketo.LeadField, _ int) field {
		return field{Name: f.REST.Name, DisplayName: f.DisplayName, DataType: f.DataType}
	})

	a.writeJSON(w, http.StatusOK, fieldsResponse{Status: "success", Fields: fields})
}

// programsHandler is autocomplete-shaped: an empty search term answers an
// empty list without calling out, and a failed search degrades to an empty
// list instead of an error banner. Token failures still surface, they are
// systemic.
func (a *Api) programsHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.LogRequest(r)

	search := strings.TrimSpace(r.URL.Query().Get("search"))
	if search == "" {
		a.writeJSON(w, http.StatusOK, programsResponse{Status: "success", Programs: []program{}})
		return
	}

	token, err := a.marketo.AccessToken(r.Context())
	if err != nil {
		a.writeErr(w, err)
		return
	}

	all, err := a.marketo.Programs(r.Context(), token)
	if err != nil {
		a.logger.Warnn("program search degraded to an empty result", obskit.Error(err))
		a.writeJSON(w, http.StatusOK, programsResponse{Status: "success", Programs: []program{}})
		return
	}

	matched := lo.Filter(all, func(p marketo.Program, _ int) bool {
		return strings.Contains(strings.ToLower(p.Name), strings.ToLower(search))
	})
	programs := lo.Map(matched, func(p marketo.Program, _ int) program {
		return program{ID: p.ID, Name: p.Name, Description: p.Description}
	})

	a.writeJSON(w, http.StatusOK, programsResponse{Status: "success", Programs: programs})
}

func (a *Api) parseLeadsHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.LogRequest(r)
	defer func() { _ = r.Body.Close() }()

	var req parseLeadsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeErr(w, &model.ClientInputError{Message: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		a.writeErr(w, &model.ClientInputError{Message: "text is required"})
		return
	}
	if len(req.JSONSchema) == 0 {
		a.writeErr(w, &model.ClientInputError{Message: "jsonSchema is required"})
		return
	}

	data, err := a.genAI.GenerateJSON(r.Context(), fmt.Sprintf(parseLeadsPromptFmt, req.Text), req.JSONSchema)
	if err != nil {
		a.logger.Errorn("parsing leads failed", obskit.Error(err))
		a.writeErr(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, parseLeadsResponse{Status: "success", Data: data})
}

func (a *Api) describeTitleHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.LogRequest(r)
	defer func() { _ = r.Body.Close() }()

	var req describeTitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeErr(w, &model.ClientInputError{Message: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		a.writeErr(w, &model.ClientInputError{Message: "title is required"})
		return
	}

	description, err := a.genAI.GenerateText(r.Context(), fmt.Sprintf(describeTitlePromptFmt, req.Title))
	if err != nil {
		a.logger.Errorn("describing title failed", obskit.Error(err))
		a.writeErr(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, describeTitleResponse{Status: "success", Description: description})
}
