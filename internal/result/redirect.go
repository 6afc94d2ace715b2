package result

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// FormRedirector posts the matched employee id to the legacy login endpoint.
type FormRedirector struct {
	endpoint string
	client   *http.Client
}

func NewFormRedirector(endpoint string, client *http.Client) *FormRedirector {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &FormRedirector{endpoint: endpoint, client: client}
}

// Redirect sends employeeId=<id> as application/x-www-form-urlencoded.
func (f *FormRedirector) Redirect(ctx context.Context, employeeID string) error {
	form := url.Values{"employeeId": {employeeID}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("legacy endpoint responded with status %d", resp.StatusCode)
	}
	return nil
}
