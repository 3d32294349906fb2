package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"chronos/internal/models"
)

type httpPayload struct {
	Method         string            `json:"method"`
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           string            `json:"body,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
}

// HTTPExecutor performs an HTTP call described by the job payload. Failures
// are classified: client timeouts -> timeout, dial/DNS errors ->
// connection_error, 5xx -> server_error, 4xx -> validation_error.
type HTTPExecutor struct {
	Client *http.Client
}

func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPExecutor{Client: client}
}

func (e *HTTPExecutor) Execute(ctx context.Context, job *models.Job, run *models.JobRun) error {
	var p httpPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return Fail(TagValidationError, "invalid http payload: %v", err)
	}
	if p.URL == "" {
		return Fail(TagValidationError, "http payload requires url")
	}
	if p.Method == "" {
		p.Method = http.MethodGet
	}

	if p.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, p.Method, p.URL, bytes.NewBufferString(p.Body))
	if err != nil {
		return Fail(TagValidationError, "invalid http request: %v", err)
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return classifyHTTPErr(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return Fail(TagServerError, "http %s %s returned %d", p.Method, p.URL, resp.StatusCode)
	case resp.StatusCode >= 400:
		return Fail(TagValidationError, "http %s %s returned %d", p.Method, p.URL, resp.StatusCode)
	}
	return nil
}

func classifyHTTPErr(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return Fail(TagTimeout, "http request timed out: %v", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Fail(TagTimeout, "http request timed out: %v", err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return Fail(TagTimeout, "http request timed out: %v", err)
	}
	return Fail(TagConnectionError, "http request failed: %v", err)
}
