package newsapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("New(\"\"): want error, got nil")
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Api-Key"); got != "k1" {
			t.Errorf("X-Api-Key header: want k1, got %q", got)
		}
		q := r.URL.Query()
		if q.Get("q") != "ai news" {
			t.Errorf("query q: want %q, got %q", "ai news", q.Get("q"))
		}
		if q.Get("pageSize") != "5" {
			t.Errorf("pageSize: want 5, got %q", q.Get("pageSize"))
		}
		if q.Get("sortBy") != "publishedAt" {
			t.Errorf("sortBy: want publishedAt, got %q", q.Get("sortBy"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "ok",
			"articles": [
				{"title": "A", "url": "https://a.example/1", "source": {"id": "a-wire", "name": "A Wire"}},
				{"title": "", "url": "https://a.example/2", "source": {"id": "a-wire", "name": "A Wire"}},
				{"title": "B", "url": "https://b.example/1", "source": {"id": "", "name": "B Daily"}}
			]
		}`))
	}))
	defer srv.Close()

	p, err := New("k1", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	results, err := p.Search(context.Background(), "ai news", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results: want 2 (entry without title dropped), got %d", len(results))
	}
	if results[0].Title != "A" || results[0].Source != "a-wire" {
		t.Errorf("results[0]: got %+v", results[0])
	}
	if results[1].Source != "B Daily" {
		t.Errorf("results[1].Source: want fallback to name, got %q", results[1].Source)
	}
}

func TestSearch_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"status":"error","message":"apiKeyInvalid"}`))
	}))
	defer srv.Close()

	p, err := New("bad", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := p.Search(context.Background(), "x", 3); err == nil {
		t.Fatal("Search: want error on non-ok status, got nil")
	}
}

func TestSearch_LimitCapsResults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "ok",
			"articles": [
				{"title": "1", "url": "https://e/1", "source": {"id": "s1"}},
				{"title": "2", "url": "https://e/2", "source": {"id": "s2"}},
				{"title": "3", "url": "https://e/3", "source": {"id": "s3"}}
			]
		}`))
	}))
	defer srv.Close()

	p, err := New("k", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	results, err := p.Search(context.Background(), "x", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("results: want 2, got %d", len(results))
	}
}
