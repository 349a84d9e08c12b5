package taskrun_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"scour/internal/taskrun"
	"scour/internal/testsupport"
)

func newClient(t *testing.T, handler http.Handler) *taskrun.Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	cfg := testsupport.NewConfig(t)
	cfg.Remote.BaseURL = ts.URL
	cfg.Remote.APIToken = "remote-token"
	cfg.Remote.AwaitTimeout = 1

	client, err := taskrun.NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestStartRunSubmitsTaskInput(t *testing.T) {
	var gotPath, gotAuth string
	var gotInput map[string]any
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotInput); err != nil {
			t.Errorf("decode input: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"id":"run-1","status":"RUNNING"}}`))
	}))

	runID, err := client.StartRun(context.Background(), "acme~search-task", map[string]any{"limit": 30})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if runID != "run-1" {
		t.Fatalf("expected run-1, got %q", runID)
	}
	if gotPath != "/v2/tasks/acme~search-task/runs" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer remote-token" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotInput["limit"] != float64(30) {
		t.Fatalf("input not forwarded: %v", gotInput)
	}
}

func TestStartRunDecodesServiceErrors(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":{"type":"usage-limit-exceeded","message":"monthly usage hard limit exceeded"}}`))
	}))

	_, err := client.StartRun(context.Background(), "acme~search-task", nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	var runErr *taskrun.RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected RunError, got %T: %v", err, err)
	}
	if runErr.Kind != "usage-limit-exceeded" || runErr.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("unexpected RunError %+v", runErr)
	}
	if !taskrun.IsCapacityError(err) {
		t.Fatal("usage limit errors classify as capacity")
	}
}

func TestAwaitItemsFetchesDataset(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/runs/run-1", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("waitForFinish") == "" {
			t.Error("expected waitForFinish parameter")
		}
		w.Write([]byte(`{"data":{"id":"run-1","status":"SUCCEEDED","defaultDatasetId":"ds-1"}}`))
	})
	mux.HandleFunc("/v2/datasets/ds-1/items", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"url":"https://example.com/p/a/","username":"alice"}]`))
	})
	client := newClient(t, mux)

	items, meta, err := client.AwaitItems(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("AwaitItems: %v", err)
	}
	if meta.Status != "SUCCEEDED" || meta.DatasetID != "ds-1" {
		t.Fatalf("unexpected meta %+v", meta)
	}
	if len(items) != 1 || items[0]["username"] != "alice" {
		t.Fatalf("unexpected items %v", items)
	}
}

func TestAwaitItemsKeepsMetaOnDatasetFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/runs/run-1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"id":"run-1","status":"SUCCEEDED","defaultDatasetId":"ds-1"}}`))
	})
	mux.HandleFunc("/v2/datasets/ds-1/items", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"type":"internal","message":"storage blip"}}`))
	})
	client := newClient(t, mux)

	_, meta, err := client.AwaitItems(context.Background(), "run-1")
	if err == nil {
		t.Fatal("expected the dataset failure to surface")
	}
	// The run finished and its cost is sunk; the ids must survive for later
	// recovery.
	if meta.RunID != "run-1" || meta.DatasetID != "ds-1" {
		t.Fatalf("meta lost on failure: %+v", meta)
	}
}

func TestAbortRun(t *testing.T) {
	var aborted string
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/runs/run-1/abort", func(w http.ResponseWriter, r *http.Request) {
		aborted = r.Method
		w.Write([]byte(`{"data":{"id":"run-1","status":"ABORTING"}}`))
	})
	client := newClient(t, mux)

	if err := client.AbortRun(context.Background(), "run-1"); err != nil {
		t.Fatalf("AbortRun: %v", err)
	}
	if aborted != http.MethodPost {
		t.Fatalf("expected a POST abort, got %q", aborted)
	}
}

// countingTransport counts the requests carried so tests can prove a call
// went through the injected client.
type countingTransport struct {
	calls int
}

func (ct *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ct.calls++
	return http.DefaultTransport.RoundTrip(req)
}

func TestAwaitItemsUsesInjectedHTTPClient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v2/runs/run-1":
			w.Write([]byte(`{"data":{"id":"run-1","status":"SUCCEEDED","defaultDatasetId":"ds-1"}}`))
		case r.URL.Path == "/v2/datasets/ds-1/items":
			w.Write([]byte(`[{"url":"https://example.com/p/a/"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)

	cfg := testsupport.NewConfig(t)
	cfg.Remote.BaseURL = ts.URL
	cfg.Remote.AwaitTimeout = 1

	transport := &countingTransport{}
	client, err := taskrun.NewClient(cfg, taskrun.WithHTTPClient(&http.Client{Transport: transport}))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	items, meta, err := client.AwaitItems(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("AwaitItems: %v", err)
	}
	if len(items) != 1 || meta.DatasetID != "ds-1" {
		t.Fatalf("unexpected result %v %+v", items, meta)
	}
	// Both the long-poll and the dataset fetch ride the injected transport.
	if transport.calls != 2 {
		t.Fatalf("expected 2 requests through the injected client, got %d", transport.calls)
	}
}
