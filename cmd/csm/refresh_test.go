package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zulandar/csmportal/internal/jobmon"
)

// refreshBackend answers refreshconfig and then walks config_status through
// the given statuses, repeating the last one.
func refreshBackend(t *testing.T, accept bool, statuses ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/refreshconfig", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		fmt.Fprintf(w, `{"success": %t}`, accept)
	})
	mux.HandleFunc("/api/config_status", func(w http.ResponseWriter, r *http.Request) {
		n := int(polls.Add(1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		progress := float64(n+1) / float64(len(statuses))
		fmt.Fprintf(w, `{"progress": %g, "status": %q}`, progress, statuses[n])
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func refreshConfig(t *testing.T, baseURL string) string {
	t.Helper()
	return writeConfig(t, fmt.Sprintf(`
api:
  base_url: %s
  key: test-key
access:
  pin: "482913"
job:
  poll_interval: 5ms
  timeout: 5s
log:
  level: error
`, baseURL))
}

func TestRefreshCmd_FollowsToCompletion(t *testing.T) {
	clearEnv(t)
	srv, polls := refreshBackend(t, true, "Starting...", "Generating...", "Completed")
	path := refreshConfig(t, srv.URL)

	out, err := run(t, newRootCmd(), "482913\n", "refresh", "--customer", "ACME-1", "-c", path)
	if err != nil {
		t.Fatalf("refresh failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "completed") {
		t.Errorf("expected completed line, got:\n%s", out)
	}
	if !strings.Contains(out, "100%") {
		t.Errorf("expected final progress 100%%, got:\n%s", out)
	}
	if polls.Load() < 3 {
		t.Errorf("polls = %d, want at least 3", polls.Load())
	}
}

func TestRefreshCmd_ErrorStatus(t *testing.T) {
	clearEnv(t)
	srv, _ := refreshBackend(t, true, "Error: template missing")
	path := refreshConfig(t, srv.URL)

	out, err := run(t, newRootCmd(), "482913\n", "refresh", "--customer", "ACME-1", "-c", path)
	if err != jobmon.ErrJobFailed {
		t.Fatalf("err = %v, want ErrJobFailed\n%s", err, out)
	}
	if !strings.Contains(out, "errored") {
		t.Errorf("expected errored line, got:\n%s", out)
	}
}

func TestRefreshCmd_Rejected(t *testing.T) {
	clearEnv(t)
	srv, polls := refreshBackend(t, false, "Completed")
	path := refreshConfig(t, srv.URL)

	_, err := run(t, newRootCmd(), "482913\n", "refresh", "--customer", "ACME-1", "-c", path)
	if err == nil || !strings.Contains(err.Error(), "did not start the config refresh") {
		t.Fatalf("err = %v, want rejection", err)
	}
	// Give a stray poll goroutine, if any, a moment to show up.
	time.Sleep(20 * time.Millisecond)
	if polls.Load() != 0 {
		t.Errorf("polls = %d, want 0 after rejection", polls.Load())
	}
}

func TestRefreshCmd_WrongPIN(t *testing.T) {
	clearEnv(t)
	srv, _ := refreshBackend(t, true, "Completed")
	path := refreshConfig(t, srv.URL)

	_, err := run(t, newRootCmd(), "000000\n", "refresh", "--customer", "ACME-1", "-c", path)
	if err == nil || !strings.Contains(err.Error(), "incorrect PIN") {
		t.Fatalf("err = %v, want incorrect PIN", err)
	}
}

func TestRefreshCmd_RequiresCustomer(t *testing.T) {
	_, err := run(t, newRootCmd(), "", "refresh")
	if err == nil || !strings.Contains(err.Error(), "customer") {
		t.Fatalf("err = %v, want missing customer flag", err)
	}
}

func TestReadPIN_FromReader(t *testing.T) {
	var out bytes.Buffer
	pin, err := readPIN(strings.NewReader(" 123456 \nignored\n"), &out)
	if err != nil {
		t.Fatalf("readPIN: %v", err)
	}
	if pin != "123456" {
		t.Errorf("pin = %q, want 123456", pin)
	}
	if !strings.Contains(out.String(), "Access PIN:") {
		t.Errorf("prompt missing: %q", out.String())
	}
}

func TestReadPIN_NoTrailingNewline(t *testing.T) {
	pin, err := readPIN(strings.NewReader("654321"), new(bytes.Buffer))
	if err != nil || pin != "654321" {
		t.Errorf("pin = %q err = %v", pin, err)
	}
}

func TestPrintUpdate(t *testing.T) {
	var buf bytes.Buffer
	printUpdate(&buf, jobmon.Update{
		State:    jobmon.Polling,
		Progress: 0.5,
		Message:  "Generating configuration...",
		Warning:  "status unavailable",
		Elapsed:  2500 * time.Millisecond,
	})
	got := buf.String()
	for _, want := range []string{"2.5s", "polling", "50%", "Generating configuration...", "(status unavailable)"} {
		if !strings.Contains(got, want) {
			t.Errorf("line %q missing %q", got, want)
		}
	}
}
