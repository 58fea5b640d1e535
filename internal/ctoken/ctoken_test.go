package ctoken

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestEmptyFactory(t *testing.T) {
	g := NewFactory(RemoteOptions{})(1700000000, 0, 3000)
	if got := g.Generate(false); got != "" {
		t.Fatalf("Generate = %q", got)
	}
}

func TestRemoteGenerate(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []remoteRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req remoteRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		seen = append(seen, req)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if req.IsRetry {
			_, _ = w.Write([]byte(`{"token":"retry-token"}`))
			return
		}
		_, _ = w.Write([]byte(`{"token":"first-token"}`))
	}))
	defer srv.Close()

	g := NewFactory(RemoteOptions{Endpoint: srv.URL, Timeout: time.Second})(1700000000, 0, 4200)
	if got := g.Generate(false); got != "first-token" {
		t.Fatalf("Generate(false) = %q", got)
	}
	if got := g.Generate(true); got != "retry-token" {
		t.Fatalf("Generate(true) = %q", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0].SaleBegin != 1700000000 || seen[0].Salt != 4200 || seen[1].Seq != 2 {
		t.Fatalf("requests = %+v", seen)
	}
}

func TestRemoteFailureReturnsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	var errs atomic.Int32
	g := NewFactory(RemoteOptions{
		Endpoint: srv.URL,
		Timeout:  time.Second,
		OnError:  func(error) { errs.Add(1) },
	})(0, 0, 2000)
	if got := g.Generate(false); got != "" {
		t.Fatalf("Generate = %q", got)
	}
	if errs.Load() != 1 {
		t.Fatalf("OnError calls = %d", errs.Load())
	}
}
