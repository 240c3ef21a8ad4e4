package genai

import (
	"bytes"
	"context"
	stdjson "encoding/json"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/rudderlabs/marketo-import-proxy/internal/httputil"
	"github.com/rudderlabs/marketo-import-proxy/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodyBytes = 4 << 20 // 4MB

type requestDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client calls the generative-language API. The key travels in a header, it
// must never appear in logs, URLs, or error messages.
type Client struct {
	logger      logger.Logger
	requestDoer requestDoer

	config struct {
		baseURL *config.Reloadable[string]
		apiKey  *config.Reloadable[string]
		model   string
		timeout time.Duration
	}
}

func New(conf *config.Config, log logger.Logger) *Client {
	c := &Client{
		logger: log.Child("genai"),
	}

	c.config.baseURL = conf.GetReloadableStringVar("https://generativelanguage.googleapis.com", "GenAI.baseURL")
	c.config.apiKey = conf.GetReloadableStringVar("", "GenAI.apiKey")
	c.config.model = conf.GetString("GenAI.model", "gemini-2.0-flash")
	c.config.timeout = conf.GetDuration("GenAI.timeout", 60, time.Second)

	c.requestDoer = &http.Client{Timeout: c.config.timeout}
	return c
}

type (
	generateRequest struct {
		Contents         []content         `json:"contents"`
		GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
	}
	content struct {
		Parts []part `json:"parts"`
	}
	part struct {
		Text string `json:"text"`
	}
	generationConfig struct {
		ResponseMIMEType string             `json:"responseMimeType,omitempty"`
		ResponseSchema   stdjson.RawMessage `json:"responseSchema,omitempty"`
	}
)

// GenerateJSON asks the model for output conforming to the caller-supplied
// schema and returns the generated document.
func (c *Client) GenerateJSON(ctx context.Context, prompt string, schema stdjson.RawMessage) (stdjson.RawMessage, error) {
	text, err := c.generate(ctx, generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: &generationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   schema,
		},
	})
	if err != nil {
		return nil, err
	}
	if !gjson.Valid(text) {
		return nil, fmt.Errorf("generated content is not valid JSON")
	}
	return stdjson.RawMessage(text), nil
}

// GenerateText asks the model for plain text.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
}

func (c *Client) generate(ctx context.Context, genReq generateRequest) (string, error) {
	apiKey := c.config.apiKey.Load()
	if apiKey == "" {
		return "", &model.ConfigurationError{Setting: "GenAI.apiKey"}
	}

	reqJSON, err := json.Marshal(genReq)
	if err != nil {
		return "", fmt.Errorf("marshalling generate request: %w", err)
	}

	generateURL := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.config.baseURL.Load(), c.config.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, generateURL, bytes.NewBuffer(reqJSON))
	if err != nil {
		return "", fmt.Errorf("creating generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", apiKey)

	resp, err := c.requestDoer.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending generate request: %w", err)
	}
	defer httputil.CloseResponse(resp)

	body := httputil.ReadBody(resp.Body, maxBodyBytes)
	if !successStatus(resp.StatusCode) {
		return "", &model.RemoteError{Operation: "generating content", StatusCode: resp.StatusCode, Body: string(body)}
	}

	text := gjson.GetBytes(body, "candidates.0.content.parts.0.text").String()
	if text == "" {
		c.logger.Debugn("generate response carries no candidate text",
			logger.NewStringField("response", string(body)))
		return "", fmt.Errorf("generate response carries no candidate text")
	}
	return text, nil
}

func successStatus(statusCode int) bool {
	return statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices
}
