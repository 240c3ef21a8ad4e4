package marketo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/rudderlabs/marketo-import-proxy/internal/httputil"
	"github.com/rudderlabs/marketo-import-proxy/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodyBytes caps how much of a remote payload is read back. Error bodies
// get embedded in error messages, so they must stay bounded.
const maxBodyBytes = 512 << 10 // 512KB

type requestDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client talks to the Marketo REST API. Credentials are loaded from config at
// the start of every call, never cached, never logged.
type Client struct {
	logger       logger.Logger
	statsFactory stats.Stats
	requestDoer  requestDoer

	config struct {
		baseURL      *config.Reloadable[string]
		clientID     *config.Reloadable[string]
		clientSecret *config.Reloadable[string]
		timeout      time.Duration
	}

	stats struct {
		tokenFetchTime stats.Timer
		createJobTime  stats.Timer
		uploadTime     stats.Timer
		pollTime       stats.Timer
	}
}

func New(conf *config.Config, log logger.Logger, statsFactory stats.Stats) *Client {
	c := &Client{
		logger:       log.Child("marketo"),
		statsFactory: statsFactory,
	}

	c.config.baseURL = conf.GetReloadableStringVar("", "Marketo.baseURL")
	c.config.clientID = conf.GetReloadableStringVar("", "Marketo.clientId")
	c.config.clientSecret = conf.GetReloadableStringVar("", "Marketo.clientSecret")
	c.config.timeout = conf.GetDuration("Marketo.timeout", 30, time.Second)

	c.requestDoer = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 50,
			IdleConnTimeout:     90 * time.Second,
			DisableCompression:  true,
		},
		Timeout: c.config.timeout,
	}

	tags := stats.Tags{"module": "marketo"}
	c.stats.tokenFetchTime = statsFactory.NewTaggedStat("marketo_token_fetch_time", stats.TimerType, tags)
	c.stats.createJobTime = statsFactory.NewTaggedStat("marketo_create_job_time", stats.TimerType, tags)
	c.stats.uploadTime = statsFactory.NewTaggedStat("marketo_upload_time", stats.TimerType, tags)
	c.stats.pollTime = statsFactory.NewTaggedStat("marketo_poll_time", stats.TimerType, tags)

	return c
}

// AccessToken exchanges the configured client credentials for a bearer token.
// Missing settings fail before any network call; every other failure is an
// AuthError. There is no retry and no caching, each call re-authenticates.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	baseURL := c.config.baseURL.Load()
	clientID := c.config.clientID.Load()
	clientSecret := c.config.clientSecret.Load()
	switch {
	case baseURL == "":
		return "", &model.ConfigurationError{Setting: "Marketo.baseURL"}
	case clientID == "":
		return "", &model.ConfigurationError{Setting: "Marketo.clientId"}
	case clientSecret == "":
		return "", &model.ConfigurationError{Setting: "Marketo.clientSecret"}
	}

	defer c.stats.tokenFetchTime.RecordDuration()()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/identity/oauth/token", nil)
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}
	q := url.Values{}
	q.Set("grant_type", "client_credentials")
	q.Set("client_id", clientID)
	q.Set("client_secret", clientSecret)
	req.URL.RawQuery = q.Encode()

	resp, err := c.requestDoer.Do(req)
	if err != nil {
		return "", &model.AuthError{Message: "token endpoint unreachable"}
	}
	defer httputil.CloseResponse(resp)

	body := httputil.ReadBody(resp.Body, maxBodyBytes)
	if !successStatus(resp.StatusCode) {
		c.logger.Debugn("token exchange returned a non-success status",
			logger.NewIntField("statusCode", int64(resp.StatusCode)),
			logger.NewStringField("response", string(body)))
		return "", &model.AuthError{StatusCode: resp.StatusCode, Message: "token endpoint returned a non-success status"}
	}

	token := gjson.GetBytes(body, "access_token").String()
	if token == "" {
		c.logger.Debugn("token response carries no access_token",
			logger.NewStringField("response", string(body)))
		return "", &model.AuthError{StatusCode: resp.StatusCode, Message: "response carries no access_token"}
	}
	return token, nil
}

func successStatus(statusCode int) bool {
	return statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices
}
