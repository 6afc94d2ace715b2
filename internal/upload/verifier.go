package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/andresmejia3/blinkauth/internal/autherr"
)

// HTTPVerifier calls the matching service over HTTP.
type HTTPVerifier struct {
	endpoint string
	client   *http.Client
}

func NewHTTPVerifier(endpoint string, client *http.Client) *HTTPVerifier {
	if client == nil {
		client = &http.Client{Timeout: DefaultVerifyTimeout}
	}
	return &HTTPVerifier{endpoint: endpoint, client: client}
}

// StatusError is a non-2xx verifier response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("verifier responded with status %d", e.Code)
}

// Verify POSTs the bucket and key as JSON. Exactly one attempt is made.
func (v *HTTPVerifier) Verify(ctx context.Context, vr VerifyRequest) (*VerifyResponse, error) {
	jsonBody, err := json.Marshal(vr)
	if err != nil {
		return nil, fmt.Errorf("could not marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, autherr.Network("verify capture", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, autherr.Network("read verifier response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, autherr.New(autherr.KindNetwork, "verify capture", &StatusError{
			Code:    resp.StatusCode,
			Message: errorMessage(body),
		})
	}

	var result VerifyResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, autherr.New(autherr.KindNetwork, "verify capture", fmt.Errorf("could not unmarshal response: %w", err))
	}
	return &result, nil
}

// errorMessage pulls "message" out of an error body.
func errorMessage(body []byte) string {
	var eb struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &eb) == nil {
		return eb.Message
	}
	return ""
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = flexString(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("employeeId: want string or number, got %s", b)
	}
	*s = flexString(n.String())
	return nil
}
