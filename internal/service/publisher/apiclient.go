package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ifuryst/ripplecast/internal/models"
)

// Classifier maps a non-2xx response to a normalized error.
type Classifier func(platform models.Platform, status int, body []byte) *Error

// Call describes one HTTP request against a platform API.
type Call struct {
	Step   string
	Method string
	URL    string
	Query  url.Values
	Header http.Header

	// Exactly one of JSON, Form or Body is sent.
	JSON        any
	Form        url.Values
	Body        []byte
	ContentType string

	// Out receives the decoded JSON response when non-nil.
	Out any
}

// Response is a successful (2xx) platform response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Client issues platform calls with a per-call timeout and records them in a transcript.
type Client struct {
	platform   models.Platform
	http       *http.Client
	timeout    time.Duration
	classify   Classifier
	transcript *Transcript
	authorize  func(h http.Header)
}

func NewClient(platform models.Platform, deps Deps, classify Classifier, transcript *Transcript) *Client {
	if classify == nil {
		classify = ClassifyHTTP
	}
	return &Client{
		platform:   platform,
		http:       deps.HTTP,
		timeout:    deps.CallTimeout,
		classify:   classify,
		transcript: transcript,
	}
}

// WithBearer sets the Authorization header on every call.
func (c *Client) WithBearer(token string) *Client {
	c.authorize = func(h http.Header) {
		if h.Get("Authorization") == "" {
			h.Set("Authorization", "Bearer "+token)
		}
	}
	return c
}

func (c *Client) Transcript() *Transcript { return c.transcript }

func (c *Client) Do(ctx context.Context, call Call) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := call.URL
	if len(call.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + call.Query.Encode()
	}

	step := Step{Name: call.Step, Method: call.Method, URL: redactURL(target), At: time.Now().UTC()}

	var body io.Reader
	contentType := call.ContentType
	switch {
	case call.JSON != nil:
		data, err := json.Marshal(call.JSON)
		if err != nil {
			return nil, ValidationError(c.platform, "encode %s request: %v", call.Step, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
		step.Request = call.JSON
	case call.Form != nil:
		body = strings.NewReader(call.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
		step.Request = redactForm(call.Form)
	case call.Body != nil:
		body = bytes.NewReader(call.Body)
		step.Request = map[string]any{"bytes": len(call.Body)}
	}

	req, err := http.NewRequestWithContext(ctx, call.Method, target, body)
	if err != nil {
		return nil, ValidationError(c.platform, "build %s request: %v", call.Step, err)
	}
	for k, values := range call.Header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.authorize != nil {
		c.authorize(req.Header)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		step.Error = err.Error()
		c.transcript.Record(step)
		return nil, TransientError(c.platform, err, "%s request failed", call.Step).With("step", call.Step)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	step.Status = resp.StatusCode
	if err != nil {
		step.Error = err.Error()
		c.transcript.Record(step)
		return nil, TransientError(c.platform, err, "read %s response", call.Step).With("step", call.Step)
	}
	step.Response = summarizeResponse(resp.Header.Get("Content-Type"), data)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		pe := c.classify(c.platform, resp.StatusCode, data)
		pe.With("step", call.Step).With("status", resp.StatusCode)
		step.Error = pe.Message
		c.transcript.Record(step)
		return nil, pe
	}
	c.transcript.Record(step)

	if call.Out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, call.Out); err != nil {
			return nil, TransientError(c.platform, err, "decode %s response", call.Step).With("step", call.Step)
		}
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// Fetch downloads a resolved media URL. An empty body is a validation failure: there is nothing to upload.
func (c *Client) Fetch(ctx context.Context, step, mediaURL string) ([]byte, string, error) {
	resp, err := c.Do(ctx, Call{Step: step, Method: http.MethodGet, URL: mediaURL})
	if err != nil {
		return nil, "", err
	}
	if len(resp.Body) == 0 {
		return nil, "", ValidationError(c.platform, "%s returned an empty media body", step).With("step", step)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// ClassifyHTTP is the status-code-only classification shared by every platform:
// 429 and 5xx are retryable, other 4xx are validation failures.
func ClassifyHTTP(platform models.Platform, status int, body []byte) *Error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	pe := &Error{Platform: platform, Code: fmt.Sprintf("http_%d", status), Message: msg}
	switch {
	case status == http.StatusTooManyRequests || status >= 500 || status == http.StatusRequestTimeout:
		pe.Kind = KindTransient
		pe.Retryable = true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		pe.Kind = KindConfiguration
	default:
		pe.Kind = KindValidation
	}
	return pe
}
