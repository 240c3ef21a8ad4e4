package marketo

import (
	stdjson "encoding/json"
	"strings"
)

type (
	// apiResponse is the envelope every Marketo REST endpoint answers with.
	// Result shapes differ per endpoint, so it stays raw until the caller
	// knows what to decode it into.
	apiResponse struct {
		RequestID string             `json:"requestId"`
		Success   bool               `json:"success"`
		Result    stdjson.RawMessage `json:"result,omitempty"`
		Errors    []apiError         `json:"errors,omitempty"`
		Warnings  []apiWarning       `json:"warnings,omitempty"`
	}

	apiError struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}

	apiWarning struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}

	// batchResult describes a bulk import job, both at creation time and on
	// every status poll.
	batchResult struct {
		BatchID              int64  `json:"batchId"`
		ImportID             string `json:"importId"`
		Status               string `json:"status"`
		NumOfRowsProcessed   int64  `json:"numOfRowsProcessed"`
		NumOfRowsFailed      int64  `json:"numOfRowsFailed"`
		NumOfRowsWithWarning int64  `json:"numOfRowsWithWarning"`
		Message              string `json:"message,omitempty"`
	}

	// LeadField is one entry of the lead schema. Only fields carrying a REST
	// block are addressable through the ordinary record API.
	LeadField struct {
		ID          int64     `json:"id"`
		DisplayName string    `json:"displayName"`
		DataType    string    `json:"dataType"`
		Length      int64     `json:"length,omitempty"`
		REST        *FieldAPI `json:"rest,omitempty"`
		SOAP        *FieldAPI `json:"soap,omitempty"`
	}

	FieldAPI struct {
		Name     string `json:"name"`
		ReadOnly bool   `json:"readOnly"`
	}

	Program struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Type        string `json:"type,omitempty"`
		Channel     string `json:"channel,omitempty"`
	}

	// UpsertLeadsRequest carries caller records into the record API. An empty
	// ProgramName targets the plain upsert endpoint, a non-empty one pushes
	// the records to that program.
	UpsertLeadsRequest struct {
		Leads       []map[string]any
		LookupField string
		ProgramName string
	}
)

// errorText flattens the envelope's error list for embedding into messages.
func (r *apiResponse) errorText() string {
	if len(r.Errors) == 0 {
		return "unknown error"
	}
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, e.Code+": "+e.Message)
	}
	return strings.Join(parts, "; ")
}

// warningText collects the envelope's warning messages.
func (r *apiResponse) warningText() []string {
	if len(r.Warnings) == 0 {
		return nil
	}
	warnings := make([]string, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		warnings = append(warnings, w.Message)
	}
	return warnings
}
