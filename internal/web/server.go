package web

import (
	"crypto/subtle"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"dmarcwatch/internal/config"
	"dmarcwatch/internal/dns"
	"dmarcwatch/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

// Server is the read-only reporting dashboard. It never writes to the
// store, ingestion is the fetcher's and importer's job.
type Server struct {
	store    *store.Store
	resolver *dns.CachedDNSResolver
	logger   *slog.Logger
	conf     config.WebConfig
	tmpl     *template.Template
}

func NewServer(st *store.Store, resolver *dns.CachedDNSResolver, conf config.WebConfig, logger *slog.Logger) (*Server, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"fmtdate": func(t time.Time) string { return t.Format("2006-01-02") },
		"fmttime": func(t time.Time) string { return t.Format("2006-01-02 15:04") },
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("could not parse templates: %w", err)
	}
	return &Server{
		store:    st,
		resolver: resolver,
		logger:   logger,
		conf:     conf,
		tmpl:     tmpl,
	}, nil
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /reports/{id}", s.handleReport)
	mux.HandleFunc("GET /export.csv", s.handleExport)
	mux.HandleFunc("GET /api/stats", s.handleAPIStats)
	mux.HandleFunc("GET /api/reports", s.handleAPIReports)
	return s.requireAuth(s.logRequests(mux))
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.conf.BasicAuthUsername)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.conf.BasicAuthPassword)) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="dmarcwatch"`)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("could not render template", "template", name, "err", err)
	}
}
