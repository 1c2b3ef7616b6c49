package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

const DefaultTimeout = 30 * time.Second

// StatusClient updates the status of a deploy in the estela API.
type StatusClient struct {
	baseURL *url.URL
	token   string
	client  *http.Client
}

func NewStatusClient(apiHost, token string, client *http.Client) (*StatusClient, error) {
	parsedURL, err := url.Parse(apiHost)
	if err != nil {
		return nil, err
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, errors.New("please define the api host with a scheme, e.g. `http://estela-api`")
	}
	parsedURL.Path = strings.TrimRight(parsedURL.Path, "/") + "/"
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}

	return &StatusClient{
		baseURL: parsedURL,
		token:   token,
		client:  client,
	}, nil
}

type statusRequest struct {
	Status       Status   `json:"status"`
	SpidersNames []string `json:"spiders_names"`
}

// Update sends PUT api/projects/{pid}/deploys/{did}. Any non 2xx response is
// an error.
func (c *StatusClient) Update(ctx context.Context, pid, did string, status Status, spiders []string) error {
	if spiders == nil {
		spiders = []string{}
	}
	raw, err := json.Marshal(statusRequest{Status: status, SpidersNames: spiders})
	if err != nil {
		return err
	}

	requestURL := c.baseURL.JoinPath("api", "projects", pid, "deploys", did)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, requestURL.String(), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.token)

	slog.InfoContext(ctx, "updating deploy status", "url", requestURL.String(), "status", status)
	slog.DebugContext(ctx, "deploy status payload", "payload", string(raw))

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err != nil {
			return err
		}
		return fmt.Errorf("unexpected status: %d, body: %s", resp.StatusCode, string(respBody))
	}
	slog.InfoContext(ctx, "deploy status updated", "code", resp.StatusCode)
	return nil
}
