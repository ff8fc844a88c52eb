// Package metadata is a typed facade over the external metadata service that
// owns instance records (the source of truth for quota counts and listings).
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jaewoo-rain/webide/pkg/errs"
)

const requestTimeout = 10 * time.Second

// Record is the registration payload for a newly provisioned instance.
type Record struct {
	ContainerID   string `json:"containerId"`
	ContainerName string `json:"containerName"`
	OwnerUsername string `json:"ownerUsername"`
	ImageName     string `json:"imageName"`
	Status        string `json:"status"`
	ProjectName   string `json:"projectName"`
}

// StatusError carries a 4xx the metadata service reported, so the HTTP layer
// can surface it verbatim.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("metadata service returned %d: %s", e.Code, e.Body)
}

// Client issues requests against the metadata service, propagating the
// caller's bearer token on every call.
type Client struct {
	Log     *logrus.Entry
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the service at baseURL.
func NewClient(log *logrus.Entry, baseURL string) *Client {
	return &Client{
		Log:     log,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// CountInstances returns how many instances username currently owns.
func (c *Client) CountInstances(ctx context.Context, token, username string) (int, error) {
	body, err := c.do(ctx, token, http.MethodGet, "/containers/count/"+username, nil)
	if err != nil {
		return 0, err
	}
	var payload struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, errs.Wrap(errs.KindInternal, err, "decoding count response")
	}
	return payload.Count, nil
}

// RegisterInstance persists a record for a freshly provisioned instance.
// An instance only becomes discoverable once this succeeds.
func (c *Client) RegisterInstance(ctx context.Context, token string, record Record) error {
	_, err := c.do(ctx, token, http.MethodPost, "/containers", record)
	return err
}

// ListInstances returns the caller's records. The shape is owned by the
// metadata service and passed through opaquely.
func (c *Client) ListInstances(ctx context.Context, token string) (json.RawMessage, error) {
	body, err := c.do(ctx, token, http.MethodGet, "/containers", nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// DeleteInstance removes the record for id on behalf of username. The owner
// check itself is delegated to the metadata service, which matches the bearer
// token against the record; username here identifies the caller in our logs.
// Deleting an unknown id counts as success so that teardown stays monotone.
func (c *Client) DeleteInstance(ctx context.Context, token, id, username string) error {
	c.Log.WithFields(logrus.Fields{"containerId": id, "username": username}).Debug("deleting instance record")
	_, err := c.do(ctx, token, http.MethodDelete, "/containers/"+id, nil)
	if err != nil {
		var se *StatusError
		if stderrors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil
		}
		return err
	}
	return nil
}

// RenameInstance updates the project name on the record for id.
func (c *Client) RenameInstance(ctx context.Context, token, id, projectName string) error {
	_, err := c.do(ctx, token, http.MethodPatch, "/containers/"+id, map[string]string{
		"projectName": projectName,
	})
	return err
}

func (c *Client) do(ctx context.Context, token, method, path string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, err, "encoding request")
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "building request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindServiceUnavailable, err, "metadata service unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.KindServiceUnavailable, err, "reading metadata response")
	}

	switch {
	case resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode < 500:
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	default:
		return nil, errs.New(errs.KindInternal, "metadata service returned %d", resp.StatusCode)
	}
}
