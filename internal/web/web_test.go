package web

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"dmarcwatch/internal/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	conf := config.WebConfig{
		ListenAddr:        ":8080",
		BasicAuthUsername: "admin",
		BasicAuthPassword: "secret",
	}
	s, err := NewServer(nil, nil, conf, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("could not create server: %v", err)
	}
	return s
}

func TestRequireAuth(t *testing.T) {
	s := newTestServer(t)

	called := false
	handler := s.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	tests := []struct {
		name     string
		user     string
		pass     string
		withAuth bool
		want     int
	}{
		{name: "no credentials", want: http.StatusUnauthorized},
		{name: "wrong password", user: "admin", pass: "nope", withAuth: true, want: http.StatusUnauthorized},
		{name: "wrong user", user: "root", pass: "secret", withAuth: true, want: http.StatusUnauthorized},
		{name: "valid", user: "admin", pass: "secret", withAuth: true, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.withAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("got status %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK && !called {
				t.Error("handler was not called on valid credentials")
			}
			if tt.want != http.StatusOK && called {
				t.Error("handler was called despite invalid credentials")
			}
			if tt.want == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestFilterFromQuery(t *testing.T) {
	q := url.Values{}
	q.Set("search", "example")
	q.Set("domain", "example.com")
	q.Set("org", "google.com")
	q.Set("date_from", "2026-01-01")
	q.Set("date_to", "2026-02-01")
	q.Set("page", "3")

	filter := filterFromQuery(q)
	if filter.Search != "example" {
		t.Errorf("got search %q", filter.Search)
	}
	if filter.Domain != "example.com" {
		t.Errorf("got domain %q", filter.Domain)
	}
	if filter.Org != "google.com" {
		t.Errorf("got org %q", filter.Org)
	}
	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if !filter.From.Equal(want) {
		t.Errorf("got from %v, want %v", filter.From, want)
	}
	if filter.Page != 3 {
		t.Errorf("got page %d, want 3", filter.Page)
	}
	if filter.PerPage != reportsPerPage {
		t.Errorf("got per page %d, want %d", filter.PerPage, reportsPerPage)
	}
}

func TestFilterFromQueryDefaults(t *testing.T) {
	filter := filterFromQuery(url.Values{})
	if filter.Page != 0 {
		t.Errorf("got page %d, want 0", filter.Page)
	}
	if !filter.From.IsZero() || !filter.To.IsZero() {
		t.Error("expected zero time range on empty query")
	}
	if filter.Search != "" || filter.Domain != "" || filter.Org != "" {
		t.Error("expected empty string filters on empty query")
	}
}

func TestFilterFromQueryBadValues(t *testing.T) {
	q := url.Values{}
	q.Set("date_from", "not-a-date")
	q.Set("page", "-2")

	filter := filterFromQuery(q)
	if !filter.From.IsZero() {
		t.Error("unparseable date should leave the range open")
	}
	if filter.Page != 0 {
		t.Errorf("got page %d, want 0 for a negative page", filter.Page)
	}
}

func TestPageURL(t *testing.T) {
	q := url.Values{}
	q.Set("domain", "example.com")
	q.Set("page", "1")

	got := pageURL(q, 2)
	parsed, err := url.Parse(got)
	if err != nil {
		t.Fatalf("could not parse %q: %v", got, err)
	}
	if parsed.Query().Get("page") != "2" {
		t.Errorf("got page %q, want 2", parsed.Query().Get("page"))
	}
	if parsed.Query().Get("domain") != "example.com" {
		t.Errorf("lost domain filter in %q", got)
	}
	if q.Get("page") != "1" {
		t.Error("pageURL mutated the original query")
	}
}
