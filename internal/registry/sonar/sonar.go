package sonar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/go-resty/resty/v2"

	"github.com/songzhibin97/sellflux/internal/models"
	"github.com/songzhibin97/sellflux/internal/registry"
)

const sellJobPath = "/api/simulation/sell"

// Client talks to the execution backend that runs simulation sell jobs
type Client struct {
	baseURL    string
	token      string
	httpClient *resty.Client
}

var _ registry.JobController = (*Client)(nil)

func NewClient(baseURL, token string, httpClient *resty.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
	}
}

func (c *Client) StartJob(ctx context.Context, req registry.StartRequest) (json.RawMessage, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(c.token).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(c.baseURL + sellJobPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to execute request: %v", models.ErrTransport, err)
	}

	if resp.IsError() {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode())
	}

	body := resp.Body()
	if len(body) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("failed to decode response: invalid json")
	}

	return json.RawMessage(body), nil
}

func (c *Client) StopJob(ctx context.Context, tokenAddress string) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(c.token).
		Get(c.baseURL + sellJobPath + "/" + url.PathEscape(tokenAddress))
	if err != nil {
		return fmt.Errorf("%w: failed to execute request: %v", models.ErrTransport, err)
	}

	if resp.IsError() {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode())
	}

	return nil
}
