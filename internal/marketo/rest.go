package marketo

import (
	"bytes"
	"context"
	stdjson "encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rudderlabs/marketo-import-proxy/internal/httputil"
	"github.com/rudderlabs/marketo-import-proxy/internal/model"
)

// UpsertLeads writes the given records through the record API, matching on
// the lookup field. With a program name set the records are pushed to that
// program instead. Exactly one remote call either way.
func (c *Client) UpsertLeads(ctx context.Context, token string, upsertReq UpsertLeadsRequest) (stdjson.RawMessage, error) {
	lookupField := upsertReq.LookupField
	if lookupField == "" {
		lookupField = "email"
	}

	var (
		upsertURL string
		payload   any
	)
	if upsertReq.ProgramName != "" {
		upsertURL = c.config.baseURL.Load() + "/rest/v1/leads/push.json"
		payload = struct {
			ProgramName string           `json:"programName"`
			LookupField string           `json:"lookupField"`
			Input       []map[string]any `json:"input"`
		}{ProgramName: upsertReq.ProgramName, LookupField: lookupField, Input: upsertReq.Leads}
	} else {
		upsertURL = c.config.baseURL.Load() + "/rest/v1/leads.json"
		payload = struct {
			Action      string           `json:"action"`
			LookupField string           `json:"lookupField"`
			Input       []map[string]any `json:"input"`
		}{Action: "createOrUpdate", LookupField: lookupField, Input: upsertReq.Leads}
	}

	res, err := c.restCall(ctx, http.MethodPost, upsertURL, token, payload, "upserting leads")
	if err != nil {
		return nil, err
	}
	return res.Result, nil
}

// LeadFields fetches the full lead schema. Filtering to REST-usable fields is
// the caller's concern.
func (c *Client) LeadFields(ctx context.Context, token string) ([]LeadField, error) {
	res, err := c.restCall(ctx, http.MethodGet, c.config.baseURL.Load()+"/rest/v1/leads/describe.json", token, nil, "describing lead fields")
	if err != nil {
		return nil, err
	}
	if len(res.Result) == 0 {
		return nil, nil
	}

	var fields []LeadField
	if err := json.Unmarshal(res.Result, &fields); err != nil {
		return nil, fmt.Errorf("decoding lead fields: %w", err)
	}
	return fields, nil
}

// Programs lists programs from the asset API. The endpoint omits the result
// block entirely when nothing matches, which counts as an empty list.
func (c *Client) Programs(ctx context.Context, token string) ([]Program, error) {
	res, err := c.restCall(ctx, http.MethodGet, c.config.baseURL.Load()+"/rest/asset/v1/programs.json?maxReturn=200", token, nil, "listing programs")
	if err != nil {
		return nil, err
	}
	if len(res.Result) == 0 {
		return nil, nil
	}

	var programs []Program
	if err := json.Unmarshal(res.Result, &programs); err != nil {
		return nil, fmt.Errorf("decoding programs: %w", err)
	}
	return programs, nil
}

// restCall issues one record-API request and returns the decoded envelope. A
// non-success status or a success:false envelope becomes a RemoteError with
// the remote payload attached.
func (c *Client) restCall(ctx context.Context, method, callURL, token string, payload any, op string) (*apiResponse, error) {
	var reqBody io.Reader
	if payload != nil {
		reqJSON, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshalling %s request: %w", op, err)
		}
		reqBody = bytes.NewBuffer(reqJSON)
	}

	req, err := http.NewRequestWithContext(ctx, method, callURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.requestDoer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending %s request: %w", op, err)
	}
	defer httputil.CloseResponse(resp)

	body := httputil.ReadBody(resp.Body, maxBodyBytes)
	if !successStatus(resp.StatusCode) {
		return nil, &model.RemoteError{Operation: op, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var res apiResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", op, err)
	}
	if !res.Success {
		return nil, &model.RemoteError{Operation: op, StatusCode: resp.StatusCode, Body: res.errorText()}
	}
	return &res, nil
}
