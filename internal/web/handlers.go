package web

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"dmarcwatch/internal/store"
)

const reportsPerPage = 20

func filterFromQuery(q url.Values) store.ReportFilter {
	filter := store.ReportFilter{
		Search:  q.Get("search"),
		Domain:  q.Get("domain"),
		Org:     q.Get("org"),
		PerPage: reportsPerPage,
	}
	if from, err := time.Parse("2006-01-02", q.Get("date_from")); err == nil {
		filter.From = from
	}
	if to, err := time.Parse("2006-01-02", q.Get("date_to")); err == nil {
		filter.To = to
	}
	if page, err := strconv.Atoi(q.Get("page")); err == nil && page > 0 {
		filter.Page = page
	}
	return filter
}

func pageURL(q url.Values, page int) string {
	copied := url.Values{}
	for k, v := range q {
		copied[k] = v
	}
	copied.Set("page", strconv.Itoa(page))
	return "/?" + copied.Encode()
}

type indexView struct {
	Stats       *store.Stats
	DomainStats []store.DomainStat
	Reports     []store.ReportSummary
	Filter      store.ReportFilter
	Total       int64
	Page        int
	TotalPages  int
	PrevURL     string
	NextURL     string
	ExportURL   string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := s.store.OverallStats(ctx)
	if err != nil {
		s.serverError(w, err)
		return
	}
	domainStats, err := s.store.DomainStats(ctx, 10)
	if err != nil {
		s.serverError(w, err)
		return
	}

	filter := filterFromQuery(r.URL.Query())
	reports, total, err := s.store.ListReports(ctx, filter)
	if err != nil {
		s.serverError(w, err)
		return
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	totalPages := int((total + reportsPerPage - 1) / reportsPerPage)

	view := indexView{
		Stats:       stats,
		DomainStats: domainStats,
		Reports:     reports,
		Filter:      filter,
		Total:       total,
		Page:        page,
		TotalPages:  totalPages,
		ExportURL:   "/export.csv?" + r.URL.Query().Encode(),
	}
	if page > 1 {
		view.PrevURL = pageURL(r.URL.Query(), page-1)
	}
	if page < totalPages {
		view.NextURL = pageURL(r.URL.Query(), page+1)
	}

	s.render(w, "index.html", view)
}

type reportView struct {
	Report *store.ReportDetail
	// source ip -> resolved ptr names
	Hostnames map[string][]string
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	report, err := s.store.GetReport(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.NotFound(w, r)
		return
	case err != nil:
		s.serverError(w, err)
		return
	}

	hostnames := make(map[string][]string)
	for _, rec := range report.Records {
		if rec.SourceIP == "" {
			continue
		}
		if _, ok := hostnames[rec.SourceIP]; ok {
			continue
		}
		domains, err := s.resolver.CachedDNSLookup(rec.SourceIP)
		if err != nil {
			s.logger.Debug("reverse lookup failed", "ip", rec.SourceIP, "err", err)
			continue
		}
		hostnames[rec.SourceIP] = domains
	}

	s.render(w, "report.html", reportView{Report: report, Hostnames: hostnames})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ExportRecords(r.Context(), filterFromQuery(r.URL.Query()))
	if err != nil {
		s.serverError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="dmarc-records.csv"`)

	cw := csv.NewWriter(w)
	header := []string{
		"org_name", "domain", "report_id", "date_range_begin", "date_range_end",
		"source_ip", "count", "disposition", "dkim_result", "spf_result",
		"header_from", "envelope_from", "envelope_to",
	}
	if err := cw.Write(header); err != nil {
		s.logger.Error("could not write csv", "err", err)
		return
	}
	for _, row := range rows {
		record := []string{
			row.OrgName, row.Domain, row.ReportID,
			row.DateRangeBegin.Format(time.RFC3339),
			row.DateRangeEnd.Format(time.RFC3339),
			row.SourceIP, strconv.FormatInt(row.Count, 10),
			row.Disposition, row.DKIMResult, row.SPFResult,
			row.HeaderFrom, row.EnvelopeFrom, row.EnvelopeTo,
		}
		if err := cw.Write(record); err != nil {
			s.logger.Error("could not write csv", "err", err)
			return
		}
	}
	cw.Flush()
}

func (s *Server) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.OverallStats(r.Context())
	if err != nil {
		s.serverError(w, err)
		return
	}
	domainStats, err := s.store.DomainStats(r.Context(), 10)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"stats":   stats,
		"domains": domainStats,
	})
}

func (s *Server) handleAPIReports(w http.ResponseWriter, r *http.Request) {
	filter := filterFromQuery(r.URL.Query())
	reports, total, err := s.store.ListReports(r.Context(), filter)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"reports": reports,
		"total":   total,
		"page":    filter.Page,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("could not encode json", "err", err)
	}
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", "err", err)
	http.Error(w, fmt.Sprintf("internal error: %v", err), http.StatusInternalServerError)
}
