package result

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andresmejia3/blinkauth/internal/liveness"
	"github.com/andresmejia3/blinkauth/internal/types"
)

type recordingRenderer struct {
	mu      sync.Mutex
	results []types.AuthenticationResult
}

func (r *recordingRenderer) Render(res types.AuthenticationResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

type recordingRedirector struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (r *recordingRedirector) Redirect(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return r.err
}

func (r *recordingRedirector) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func matched(id string) types.AuthenticationResult {
	return types.AuthenticationResult{Status: types.StatusMatched, Message: "Face matched", EmployeeID: id, Confidence: 97}
}

func TestSink_MatchedRedirectsOnceAfterDelay(t *testing.T) {
	renderer := &recordingRenderer{}
	redirector := &recordingRedirector{}
	done := make(chan string, 1)
	sink := NewSink(renderer, redirector.Redirect, Options{
		Delay:      30 * time.Millisecond,
		OnRedirect: func(id string, err error) { done <- id },
	})

	start := time.Now()
	sink.Deliver(context.Background(), matched("E123"))
	if len(renderer.results) != 1 {
		t.Fatalf("expected result rendered immediately, got %d renders", len(renderer.results))
	}
	if len(redirector.calls()) != 0 {
		t.Fatal("redirect fired before the delay")
	}

	select {
	case id := <-done:
		if id != "E123" {
			t.Errorf("redirected %q, want E123", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("redirect never fired")
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("redirect fired early")
	}

	sink.Wait()
	if calls := redirector.calls(); len(calls) != 1 {
		t.Errorf("expected exactly one redirect, got %v", calls)
	}
}

func TestSink_NoRedirect(t *testing.T) {
	tests := []struct {
		name string
		res  types.AuthenticationResult
	}{
		{"not matched", types.AuthenticationResult{Status: types.StatusNotMatched, Message: "Face not recognized"}},
		{"error", types.AuthenticationResult{Status: types.StatusError, Message: "Authentication failed: timeout", Err: errors.New("timeout")}},
		{"matched without id", matched("")},
		{"matched with control characters", matched("E1\n23")},
		{"matched with oversized id", matched(strings.Repeat("x", 65))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			renderer := &recordingRenderer{}
			redirector := &recordingRedirector{}
			sink := NewSink(renderer, redirector.Redirect, Options{})

			sink.Deliver(context.Background(), tt.res)
			sink.Wait()

			if len(renderer.results) != 1 {
				t.Errorf("expected one render, got %d", len(renderer.results))
			}
			if calls := redirector.calls(); len(calls) != 0 {
				t.Errorf("unexpected redirect %v", calls)
			}
		})
	}
}

func TestSink_StopCancelsPending(t *testing.T) {
	redirector := &recordingRedirector{}
	sink := NewSink(nil, redirector.Redirect, Options{Delay: time.Hour})

	sink.Deliver(context.Background(), matched("E123"))
	sink.Stop()
	sink.Wait()
	sink.Deliver(context.Background(), matched("E456"))
	sink.Wait()

	if calls := redirector.calls(); len(calls) != 0 {
		t.Errorf("stopped sink redirected %v", calls)
	}
}

func TestSink_ReportsRedirectError(t *testing.T) {
	redirector := &recordingRedirector{err: errors.New("legacy down")}
	var got error
	sink := NewSink(nil, redirector.Redirect, Options{OnRedirect: func(id string, err error) { got = err }})

	sink.Deliver(context.Background(), matched("E123"))
	sink.Wait()
	if got == nil || got.Error() != "legacy down" {
		t.Errorf("OnRedirect err = %v", got)
	}
}

func TestFormRedirector(t *testing.T) {
	var (
		contentType string
		employeeID  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		r.ParseForm()
		employeeID = r.PostForm.Get("employeeId")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := NewFormRedirector(srv.URL, nil).Redirect(context.Background(), "E123"); err != nil {
		t.Fatalf("Redirect failed: %v", err)
	}
	if contentType != "application/x-www-form-urlencoded" {
		t.Errorf("content type = %q", contentType)
	}
	if employeeID != "E123" {
		t.Errorf("employeeId = %q, want E123", employeeID)
	}
}

func TestFormRedirector_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := NewFormRedirector(srv.URL, nil).Redirect(context.Background(), "E123"); err == nil {
		t.Error("expected error for 500")
	}
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	c.Status("Please blink to authenticate")
	c.Status("Please blink to authenticate")
	c.Tick(liveness.Step{})
	c.Render(matched("E123"))
	c.Render(types.AuthenticationResult{Status: types.StatusError, Message: "Authentication failed: request timed out"})
	c.Finish()

	out := buf.String()
	if strings.Count(out, "Please blink to authenticate") != 1 {
		t.Errorf("repeated status printed twice:\n%s", out)
	}
	for _, want := range []string{"✅ Face matched", "E123", "97.00%", "N/A", "❌ Authentication failed: request timed out"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("colors written to a non-terminal")
	}
}
