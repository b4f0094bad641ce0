package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func hostOf(t *testing.T, server *httptest.Server) string {
	t.Helper()
	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	return u.Hostname()
}

func TestDisallowedDomainNoNetworkCall(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	f := New(Config{AllowedDomains: []string{"policies.example.edu"}})

	_, err := f.Fetch(context.Background(), server.URL+"/handbook")
	var perm *PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("want PermanentError, got %v", err)
	}
	if n := calls.Load(); n != 0 {
		t.Fatalf("network calls: got %d, want 0", n)
	}
}

func TestNotFoundFailsWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	f := New(Config{AllowedDomains: []string{hostOf(t, server)}, MaxAttempts: 3})

	_, err := f.Fetch(context.Background(), server.URL+"/missing")
	var perm *PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("want PermanentError, got %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("calls: got %d, want 1 (no retry on 404)", n)
	}
}

func TestTransientRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>Vacation Policy</body></html>"))
	}))
	defer server.Close()

	f := New(Config{AllowedDomains: []string{hostOf(t, server)}, MaxAttempts: 3})

	res, err := f.Fetch(context.Background(), server.URL+"/policy")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.MediaKind != "html" {
		t.Errorf("media kind: got %q", res.MediaKind)
	}
	if res.Hash == "" {
		t.Error("hash empty")
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls: got %d, want 3", n)
	}
}

func TestTransientExhaustsCeiling(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	f := New(Config{AllowedDomains: []string{hostOf(t, server)}, MaxAttempts: 2})

	_, err := f.Fetch(context.Background(), server.URL+"/policy")
	if err == nil {
		t.Fatal("want error")
	}
	var te *TransientError
	if !errors.As(err, &te) {
		t.Fatalf("want wrapped TransientError, got %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("calls: got %d, want 2", n)
	}
}

func TestFetchCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	f := New(Config{AllowedDomains: []string{hostOf(t, server)}, Timeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, server.URL+"/slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}

func TestPDFDetection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.7 fake"))
	}))
	defer server.Close()

	f := New(Config{AllowedDomains: []string{hostOf(t, server)}})

	res, err := f.Fetch(context.Background(), server.URL+"/doc")
	if err != nil {
		t.Fatal(err)
	}
	if res.MediaKind != "pdf" {
		t.Errorf("media kind: got %q, want pdf", res.MediaKind)
	}
}

func TestReadLocal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "handbook.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 content"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := ReadLocal(path)
	if err != nil {
		t.Fatal(err)
	}
	if res.MediaKind != "pdf" {
		t.Errorf("media kind: got %q, want pdf", res.MediaKind)
	}
	if res.StatusCode != 0 {
		t.Errorf("status code: got %d, want 0", res.StatusCode)
	}
	if res.Hash == "" {
		t.Error("hash empty")
	}
}
