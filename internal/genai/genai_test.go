package genai

import (
	"context"
	stdjson "encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/rudderlabs/marketo-import-proxy/internal/model"
)

type mockRequestDoer struct {
	response *http.Response
	err      error

	calls int
}

func (c *mockRequestDoer) Do(*http.Request) (*http.Response, error) {
	c.calls++
	return c.response, c.err
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	conf := config.New()
	conf.Set("GenAI.baseURL", baseURL)
	conf.Set("GenAI.apiKey", "test-genai-key")
	return New(conf, logger.NOP)
}

func TestGenerateJSON(t *testing.T) {
	ctx := context.Background()
	schema := stdjson.RawMessage(`{"type":"array","items":{"type":"object","properties":{"email":{"type":"string"}}}}`)

	t.Run("success", func(t *testing.T) {
		genServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", r.URL.Path)
			require.Equal(t, "test-genai-key", r.Header.Get("x-goog-api-key"))
			require.Equal(t, "application/json", r.Header.Get("Content-Type"))

			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.Equal(t, "application/json", gjson.GetBytes(body, "generationConfig.responseMimeType").String())
			require.JSONEq(t, string(schema), gjson.GetBytes(body, "generationConfig.responseSchema").Raw)
			require.Equal(t, "extract the leads", gjson.GetBytes(body, "contents.0.parts.0.text").String())

			_, err = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"[{\"email\":\"foo@bar.com\"}]"}]}}]}`))
			require.NoError(t, err)
		}))
		defer genServer.Close()

		c := newTestClient(t, genServer.URL)
		data, err := c.GenerateJSON(ctx, "extract the leads", schema)
		require.NoError(t, err)
		require.JSONEq(t, `[{"email":"foo@bar.com"}]`, string(data))
	})

	t.Run("non-JSON candidate text", func(t *testing.T) {
		genServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"sorry, I cannot help with that"}]}}]}`))
		}))
		defer genServer.Close()

		c := newTestClient(t, genServer.URL)
		data, err := c.GenerateJSON(ctx, "extract the leads", schema)
		require.Error(t, err)
		require.Nil(t, data)
	})
}

func TestGenerateText(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		genServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.False(t, gjson.GetBytes(body, "generationConfig").Exists())

			_, err = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"A crisp description."}]}}]}`))
			require.NoError(t, err)
		}))
		defer genServer.Close()

		c := newTestClient(t, genServer.URL)
		text, err := c.GenerateText(ctx, "describe the program")
		require.NoError(t, err)
		require.Equal(t, "A crisp description.", text)
	})

	t.Run("missing key fails before any network call", func(t *testing.T) {
		conf := config.New()
		conf.Set("GenAI.baseURL", "http://genai.local")

		c := New(conf, logger.NOP)
		doer := &mockRequestDoer{}
		c.requestDoer = doer

		_, err := c.GenerateText(ctx, "describe the program")

		var cfgErr *model.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		require.Equal(t, "GenAI.apiKey", cfgErr.Setting)
		require.Zero(t, doer.calls)
	})

	t.Run("non-success status keeps the key out of the error", func(t *testing.T) {
		genServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"code":429,"message":"Resource has been exhausted"}}`))
		}))
		defer genServer.Close()

		c := newTestClient(t, genServer.URL)
		_, err := c.GenerateText(ctx, "describe the program")

		var remoteErr *model.RemoteError
		require.ErrorAs(t, err, &remoteErr)
		require.Equal(t, http.StatusTooManyRequests, remoteErr.StatusCode)
		require.Contains(t, err.Error(), "Resource has been exhausted")
		require.NotContains(t, err.Error(), "test-genai-key")
	})

	t.Run("no candidates", func(t *testing.T) {
		genServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"candidates":[]}`))
		}))
		defer genServer.Close()

		c := newTestClient(t, genServer.URL)
		_, err := c.GenerateText(ctx, "describe the program")
		require.Error(t, err)
	})
}
