// Package vertex extracts structured event attributes from email text
// using a Vertex AI Gemini model.
//
// The model is a black box behind one REST call.  The contract is the
// prompt below: the model returns a single JSON object with null for
// anything it could not find.  Responses are tolerated with or
// without markdown code fences.
package vertex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/HangSHI/SmartEventAdder/internal/event"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Scope required on the HTTP client used for Vertex AI calls.
const Scope = "https://www.googleapis.com/auth/cloud-platform"

const (
	defaultModel    = "gemini-1.0-pro"
	defaultLocation = "us-central1"
	defaultTimeout  = 60 * time.Second
)

// ErrParse reports that the AI collaborator failed or timed out.  It
// is fatal to the current workflow; parse calls are not retried
// because they are not guaranteed idempotent in cost.
var ErrParse = errors.New("ai event extraction failed")

const promptTemplate = `Extract the following event details from the email text below and return ONLY a valid JSON object string with these keys:

- summary: A concise title for the event
- date: The date in YYYY-MM-DD format
- start_time: The start time in 24-hour HH:MM format
- end_time: The end time in 24-hour HH:MM format
- location: The address or place name
- description: A short description of the event

If any value is not found, use null for that key.

Return ONLY the JSON object, no other text or explanation.

Email text:
%s`

// Parser is the AI parsing collaborator boundary.
type Parser interface {
	Parse(ctx context.Context, emailText string) (event.Attributes, error)
}

// Client calls the Vertex AI generateContent endpoint.
type Client struct {
	httpClient *http.Client
	projectID  string
	location   string
	model      string
	timeout    time.Duration
	log        *zap.Logger
}

// New builds a Client.  The HTTP client must already be authenticated
// with the cloud-platform scope.  Empty location, model or timeout
// select the defaults.
func New(client *http.Client, projectID, location, model string, timeout time.Duration, log *zap.Logger) *Client {
	if location == "" {
		location = defaultLocation
	}
	if model == "" {
		model = defaultModel
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: client,
		projectID:  projectID,
		location:   location,
		model:      model,
		timeout:    timeout,
		log:        log,
	}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Parse sends the email text to the model and decodes the attribute
// JSON from its reply.
func (c *Client) Parse(ctx context.Context, emailText string) (event.Attributes, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody, err := json.Marshal(generateRequest{
		Contents: []content{{
			Role:  "user",
			Parts: []part{{Text: fmt.Sprintf(promptTemplate, emailText)}},
		}},
	})
	if err != nil {
		return event.Attributes{}, errors.Wrap(ErrParse, err.Error())
	}

	url := fmt.Sprintf(
		"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
		c.location, c.projectID, c.location, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return event.Attributes{}, errors.Wrap(ErrParse, err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return event.Attributes{}, errors.Wrap(ErrParse, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return event.Attributes{}, errors.Wrap(ErrParse, err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		return event.Attributes{}, errors.Wrapf(ErrParse,
			"vertex ai returned %s: %s", resp.Status, truncate(string(body), 200))
	}

	var gr generateResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return event.Attributes{}, errors.Wrap(ErrParse, err.Error())
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return event.Attributes{}, errors.Wrap(ErrParse, "empty model response")
	}

	attrs, err := decodeAttributes(gr.Candidates[0].Content.Parts[0].Text)
	if err != nil {
		return event.Attributes{}, err
	}
	c.log.Debug("vertex ai extraction complete",
		zap.String("model", c.model),
		zap.String("summary", attrs.Summary))
	return attrs, nil
}

type wireAttributes struct {
	Summary     *string `json:"summary"`
	Date        *string `json:"date"`
	StartTime   *string `json:"start_time"`
	EndTime     *string `json:"end_time"`
	Location    *string `json:"location"`
	Description *string `json:"description"`
}

// decodeAttributes parses the model's reply, tolerating markdown code
// fences and prose around the JSON object.
func decodeAttributes(text string) (event.Attributes, error) {
	raw := strings.TrimSpace(text)
	if start := strings.IndexByte(raw, '{'); start >= 0 {
		if end := strings.LastIndexByte(raw, '}'); end > start {
			raw = raw[start : end+1]
		}
	}
	var w wireAttributes
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return event.Attributes{}, errors.Wrapf(ErrParse, "undecodable model reply: %v", err)
	}
	return event.Attributes{
		Summary:     deref(w.Summary),
		Date:        deref(w.Date),
		StartTime:   deref(w.StartTime),
		EndTime:     deref(w.EndTime),
		Location:    deref(w.Location),
		Description: deref(w.Description),
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
