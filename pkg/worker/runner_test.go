package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/conveyor/pkg/config"
)

// brokerDouble serves one job and records the terminal POST.
type brokerDouble struct {
	mu       sync.Mutex
	job      string // claim response body, served once
	served   bool
	resultAt string
	result   map[string]string
	failAt   string
	failBody map[string]string
}

func (b *brokerDouble) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.URL.Path == "/jobs/next":
			if b.served {
				_, _ = w.Write([]byte(`{"job": null}`))
				return
			}
			b.served = true
			_, _ = w.Write([]byte(b.job))
		case strings.HasSuffix(r.URL.Path, "/result"):
			b.resultAt = r.URL.Path
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			b.result = body
			_, _ = w.Write([]byte(`{"ok":true,"status":"done"}`))
		case strings.HasSuffix(r.URL.Path, "/fail"):
			b.failAt = r.URL.Path
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			b.failBody = body
			_, _ = w.Write([]byte(`{"ok":true,"status":"failed"}`))
		default:
			http.NotFound(w, r)
		}
	}
}

func runnerAgainst(t *testing.T, url string) *Runner {
	t.Helper()
	cfg := &config.WorkerConfig{
		BrokerURL:      url,
		WorkerToken:    "tok",
		WorkerID:       "w-loop",
		PollInterval:   10 * time.Millisecond,
		StateDir:       t.TempDir(),
		ReposBase:      t.TempDir(),
		CmdTimeout:     5 * time.Second,
		MaxOutputBytes: 1000,
		MaxFileBytes:   1 << 20,
		MaxLines:       100,
	}
	return New(cfg, &config.LLMConfig{MaxSteps: 6, AllowedTools: map[string]struct{}{}})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestLoopPostsResult(t *testing.T) {
	double := &brokerDouble{job: `{"job":{"id":"j1","created_at":1,"status":"running","command":"ping","payload":"hi",
		"started_at":2,"lease_until":62,"worker_id":"w-loop",
		"finished_at":null,"result":null,"error":null,"requires":null}}`}
	srv := httptest.NewServer(double.handler())
	defer srv.Close()

	r := runnerAgainst(t, srv.URL)
	r.Start(context.Background())
	defer r.Stop()

	waitFor(t, func() bool {
		double.mu.Lock()
		defer double.mu.Unlock()
		return double.resultAt != ""
	})

	double.mu.Lock()
	defer double.mu.Unlock()
	assert.Equal(t, "/jobs/j1/result", double.resultAt)
	assert.Equal(t, "pong: hi", double.result["result"])
	assert.Empty(t, double.failAt)
}

func TestLoopPostsFailureOnHandlerError(t *testing.T) {
	double := &brokerDouble{job: `{"job":{"id":"j2","created_at":1,"status":"running","command":"repo_status","payload":"{}",
		"started_at":2,"lease_until":62,"worker_id":"w-loop",
		"finished_at":null,"result":null,"error":null,"requires":null}}`}
	srv := httptest.NewServer(double.handler())
	defer srv.Close()

	r := runnerAgainst(t, srv.URL)
	r.Start(context.Background())
	defer r.Stop()

	waitFor(t, func() bool {
		double.mu.Lock()
		defer double.mu.Unlock()
		return double.failAt != ""
	})

	double.mu.Lock()
	defer double.mu.Unlock()
	assert.Equal(t, "/jobs/j2/fail", double.failAt)
	require.NotNil(t, double.failBody)
	assert.Contains(t, double.failBody["error"], "repo required")
}

func TestStopIsIdempotent(t *testing.T) {
	double := &brokerDouble{served: true, job: `{"job": null}`}
	srv := httptest.NewServer(double.handler())
	defer srv.Close()

	r := runnerAgainst(t, srv.URL)
	r.Start(context.Background())
	r.Stop()
	r.Stop()
}
