package publisher

import (
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ifuryst/ripplecast/internal/models"
)

const maxRecordedBody = 2048

// Step is one recorded platform call.
type Step struct {
	Name     string    `json:"name"`
	Method   string    `json:"method"`
	URL      string    `json:"url"`
	Status   int       `json:"status,omitempty"`
	Request  any       `json:"request,omitempty"`
	Response any       `json:"response,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Transcript records every call made during one publish attempt so the attempt can be reconstructed later.
type Transcript struct {
	mu    sync.Mutex
	steps []Step
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

func (t *Transcript) Record(step Step) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, step)
}

func (t *Transcript) Steps() []Step {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Step, len(t.steps))
	copy(out, t.steps)
	return out
}

// Names lists the recorded step names in order.
func (t *Transcript) Names() []string {
	steps := t.Steps()
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
	}
	return names
}

// Finish attaches the transcript to the outcome of a publish attempt.
func (t *Transcript) Finish(platform models.Platform, res *Result, err error) (*Result, error) {
	if err != nil {
		pe := Normalize(platform, err)
		pe.With("calls", t.Steps())
		return nil, pe
	}
	if res.Payload == nil {
		res.Payload = make(map[string]any)
	}
	res.Payload["platform"] = string(platform)
	res.Payload["calls"] = t.Steps()
	if res.Method != "" {
		res.Payload["method"] = res.Method
	}
	return res, nil
}

var secretParams = []string{"access_token", "client_secret", "signature"}

// redactURL removes credentials from a URL before it is recorded.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	changed := false
	for _, name := range secretParams {
		if q.Has(name) {
			q.Set(name, "REDACTED")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func redactForm(form url.Values) map[string]string {
	out := make(map[string]string, len(form))
	for k := range form {
		out[k] = form.Get(k)
	}
	for _, name := range secretParams {
		if _, ok := out[name]; ok {
			out[name] = "REDACTED"
		}
	}
	return out
}

func summarizeResponse(contentType string, body []byte) any {
	if strings.HasPrefix(contentType, "image/") || strings.HasPrefix(contentType, "video/") ||
		strings.HasPrefix(contentType, "application/octet-stream") {
		return map[string]any{"bytes": len(body), "content_type": contentType}
	}
	return summarizeBody(body)
}

// summarizeBody keeps a JSON body as structured data and truncates anything else.
func summarizeBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var v any
	if len(body) <= maxRecordedBody*4 && json.Unmarshal(body, &v) == nil {
		return v
	}
	if len(body) > maxRecordedBody {
		return string(body[:maxRecordedBody]) + "..."
	}
	return string(body)
}
