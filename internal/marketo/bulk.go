package marketo

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/rudderlabs/marketo-import-proxy/internal/httputil"
	"github.com/rudderlabs/marketo-import-proxy/internal/model"
)

// CreateImportJob allocates a bulk import job for the given deduplication
// field and returns its batch identifier. No payload travels on this call,
// the platform assigns job identity before any data is uploaded.
func (c *Client) CreateImportJob(ctx context.Context, token, dedupeKey string) (string, error) {
	reqJSON, err := json.Marshal(struct {
		Format      string `json:"format"`
		LookupField string `json:"lookupField"`
	}{Format: "csv", LookupField: dedupeKey})
	if err != nil {
		return "", fmt.Errorf("marshalling create job request: %w", err)
	}

	defer c.stats.createJobTime.RecordDuration()()

	createURL := c.config.baseURL.Load() + "/bulk/v1/leads/batch.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, createURL, bytes.NewBuffer(reqJSON))
	if err != nil {
		return "", fmt.Errorf("creating create job request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.requestDoer.Do(req)
	if err != nil {
		return "", &model.JobCreationError{Body: err.Error()}
	}
	defer httputil.CloseResponse(resp)

	body := httputil.ReadBody(resp.Body, maxBodyBytes)
	if !successStatus(resp.StatusCode) {
		return "", &model.JobCreationError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var res apiResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", &model.JobCreationError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if !res.Success {
		return "", &model.JobCreationError{StatusCode: resp.StatusCode, Body: res.errorText()}
	}

	var results []batchResult
	if err := json.Unmarshal(res.Result, &results); err != nil || len(results) == 0 {
		return "", &model.JobCreationError{StatusCode: resp.StatusCode, Body: "success envelope carries no batch result"}
	}

	batchID := results[0].ImportID
	if batchID == "" && results[0].BatchID > 0 {
		batchID = strconv.FormatInt(results[0].BatchID, 10)
	}
	if batchID == "" {
		return "", &model.JobCreationError{StatusCode: resp.StatusCode, Body: "batch result carries no identifier"}
	}

	c.logger.Debugn("created import job",
		logger.NewStringField("batchId", batchID),
		logger.NewStringField("requestId", res.RequestID))
	return batchID, nil
}

// UploadJobData transmits the tabular content against an allocated batch job.
// Success is judged by HTTP status alone: the endpoint may answer 2xx with an
// empty body, which is never decoded.
func (c *Client) UploadJobData(ctx context.Context, token, batchID, content string) error {
	defer c.stats.uploadTime.RecordDuration()()

	uploadURL := fmt.Sprintf("%s/bulk/v1/leads/batch/%s/file.json", c.config.baseURL.Load(), batchID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, strings.NewReader(content))
	if err != nil {
		return fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.requestDoer.Do(req)
	if err != nil {
		return &model.UploadError{BatchID: batchID, Body: err.Error()}
	}
	defer httputil.CloseResponse(resp)

	if !successStatus(resp.StatusCode) {
		body := httputil.ReadBody(resp.Body, maxBodyBytes)
		return &model.UploadError{BatchID: batchID, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

// PollImportStatus queries a batch job once and returns its current snapshot.
// A malformed or unsuccessful poll response is a PollError, the caller must
// not keep polling past one.
func (c *Client) PollImportStatus(ctx context.Context, token, batchID string) (*model.ImportStatus, error) {
	defer c.stats.pollTime.RecordDuration()()

	pollURL := fmt.Sprintf("%s/bulk/v1/leads/batch/%s.json", c.config.baseURL.Load(), batchID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating poll request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.requestDoer.Do(req)
	if err != nil {
		return nil, &model.PollError{BatchID: batchID, Body: err.Error()}
	}
	defer httputil.CloseResponse(resp)

	body := httputil.ReadBody(resp.Body, maxBodyBytes)
	if !successStatus(resp.StatusCode) {
		return nil, &model.PollError{BatchID: batchID, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var res apiResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, &model.PollError{BatchID: batchID, StatusCode: resp.StatusCode, Body: string(body)}
	}
	if !res.Success {
		return nil, &model.PollError{BatchID: batchID, StatusCode: resp.StatusCode, Body: res.errorText()}
	}

	var results []batchResult
	if err := json.Unmarshal(res.Result, &results); err != nil || len(results) == 0 {
		return nil, &model.PollError{BatchID: batchID, StatusCode: resp.StatusCode, Body: "success envelope carries no batch result"}
	}

	status := &model.ImportStatus{
		Status:          results[0].Status,
		RowsProcessed:   results[0].NumOfRowsProcessed,
		RowsFailed:      results[0].NumOfRowsFailed,
		RowsWithWarning: results[0].NumOfRowsWithWarning,
		Warnings:        res.warningText(),
	}
	c.logger.Debugn("polled import job",
		logger.NewStringField("batchId", batchID),
		logger.NewStringField("status", status.Status))
	return status, nil
}
