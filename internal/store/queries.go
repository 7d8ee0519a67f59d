package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dmarcwatch/internal/dmarc"
)

var ErrNotFound = errors.New("report not found")

// Stats summarizes everything the store has seen so far.
type Stats struct {
	TotalReports   int64
	TotalDomains   int64
	TotalSourceIPs int64
	TotalMessages  int64
	FirstReport    *time.Time
	LastReport     *time.Time
}

// DomainStat aggregates message outcomes for one evaluated domain.
type DomainStat struct {
	Domain       string
	Reports      int64
	Messages     int64
	DKIMPassed   int64
	SPFPassed    int64
	FullyAligned int64
}

// ReportFilter narrows the report list. Zero values mean no restriction.
type ReportFilter struct {
	Search  string
	Domain  string
	Org     string
	From    time.Time
	To      time.Time
	Page    int
	PerPage int
}

type ReportSummary struct {
	ID             int64
	OrgName        string
	Domain         string
	DateRangeBegin time.Time
	DateRangeEnd   time.Time
	RecordCount    int64
	MessageCount   int64
}

type ReportDetail struct {
	ID               int64
	OrgName          string
	Email            string
	ExtraContactInfo string
	ReportID         string
	DateRangeBegin   time.Time
	DateRangeEnd     time.Time
	Domain           string
	ADKIM            string
	ASPF             string
	Policy           string
	SubdomainPolicy  string
	Percent          int
	Records          []RecordDetail
}

type RecordDetail struct {
	ID           int64
	SourceIP     string
	Count        int64
	Disposition  string
	DKIMResult   string
	SPFResult    string
	HeaderFrom   string
	EnvelopeFrom string
	EnvelopeTo   string
	DKIMAuth     []dmarc.DKIMAuthResult
	SPFAuth      []dmarc.SPFAuthResult
}

// ExportRow is one line of the CSV export, a record joined with its report.
type ExportRow struct {
	OrgName        string
	Domain         string
	ReportID       string
	DateRangeBegin time.Time
	DateRangeEnd   time.Time
	SourceIP       string
	Count          int64
	Disposition    string
	DKIMResult     string
	SPFResult      string
	HeaderFrom     string
	EnvelopeFrom   string
	EnvelopeTo     string
}

func (f ReportFilter) where() (string, []any) {
	var clauses []string
	var args []any

	appendClause := func(cond string, vals ...any) {
		for _, v := range vals {
			cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(args)+1), 1)
			args = append(args, v)
		}
		clauses = append(clauses, cond)
	}

	if f.Search != "" {
		pattern := "%" + strings.ToLower(f.Search) + "%"
		appendClause("(LOWER(r.org_name) LIKE ? OR LOWER(r.domain) LIKE ? OR LOWER(r.report_id) LIKE ?)", pattern, pattern, pattern)
	}
	if f.Domain != "" {
		appendClause("LOWER(r.domain) LIKE ?", "%"+strings.ToLower(f.Domain)+"%")
	}
	if f.Org != "" {
		appendClause("LOWER(r.org_name) LIKE ?", "%"+strings.ToLower(f.Org)+"%")
	}
	if !f.From.IsZero() {
		appendClause("r.date_range_begin >= ?", f.From)
	}
	if !f.To.IsZero() {
		appendClause("r.date_range_end <= ?", f.To)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// OverallStats returns the headline numbers for the dashboard index.
func (s *Store) OverallStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	var first, last sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(DISTINCT r.id),
			COUNT(DISTINCT r.domain),
			COUNT(DISTINCT rec.source_ip),
			COALESCE(SUM(rec.count), 0),
			MIN(r.date_range_begin),
			MAX(r.date_range_end)
		FROM reports r
		LEFT JOIN records rec ON rec.report_id = r.id`,
	).Scan(&stats.TotalReports, &stats.TotalDomains, &stats.TotalSourceIPs, &stats.TotalMessages, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("could not query overall stats: %w", err)
	}
	if first.Valid {
		stats.FirstReport = &first.Time
	}
	if last.Valid {
		stats.LastReport = &last.Time
	}
	return &stats, nil
}

// DomainStats returns the busiest evaluated domains.
func (s *Store) DomainStats(ctx context.Context, limit int) ([]DomainStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			r.domain,
			COUNT(DISTINCT r.id),
			COALESCE(SUM(rec.count), 0),
			COALESCE(SUM(CASE WHEN rec.dkim_result = 'pass' THEN rec.count ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN rec.spf_result = 'pass' THEN rec.count ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN rec.dkim_result = 'pass' AND rec.spf_result = 'pass' THEN rec.count ELSE 0 END), 0)
		FROM reports r
		LEFT JOIN records rec ON rec.report_id = r.id
		GROUP BY r.domain
		ORDER BY 3 DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("could not query domain stats: %w", err)
	}
	defer rows.Close()

	var stats []DomainStat
	for rows.Next() {
		var d DomainStat
		if err := rows.Scan(&d.Domain, &d.Reports, &d.Messages, &d.DKIMPassed, &d.SPFPassed, &d.FullyAligned); err != nil {
			return nil, fmt.Errorf("could not scan domain stat: %w", err)
		}
		stats = append(stats, d)
	}
	return stats, rows.Err()
}

// ListReports returns one page of reports matching the filter plus the
// total number of matches.
func (s *Store) ListReports(ctx context.Context, filter ReportFilter) ([]ReportSummary, int64, error) {
	whereSQL, args := filter.where()

	var total int64
	countQuery := fmt.Sprintf(`SELECT COUNT(DISTINCT r.id) FROM reports r %s`, whereSQL)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("could not count reports: %w", err)
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * perPage

	listQuery := fmt.Sprintf(`
		SELECT
			r.id, r.org_name, r.domain, r.date_range_begin, r.date_range_end,
			COUNT(rec.id), COALESCE(SUM(rec.count), 0)
		FROM reports r
		LEFT JOIN records rec ON rec.report_id = r.id
		%s
		GROUP BY r.id, r.org_name, r.domain, r.date_range_begin, r.date_range_end
		ORDER BY r.date_range_end DESC
		LIMIT $%d OFFSET $%d`, whereSQL, len(args)+1, len(args)+2)
	args = append(args, perPage, offset)

	rows, err := s.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("could not list reports: %w", err)
	}
	defer rows.Close()

	var reports []ReportSummary
	for rows.Next() {
		var r ReportSummary
		if err := rows.Scan(&r.ID, &r.OrgName, &r.Domain, &r.DateRangeBegin, &r.DateRangeEnd, &r.RecordCount, &r.MessageCount); err != nil {
			return nil, 0, fmt.Errorf("could not scan report summary: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, total, rows.Err()
}

// GetReport loads one report with all records and auth results.
func (s *Store) GetReport(ctx context.Context, id int64) (*ReportDetail, error) {
	var detail ReportDetail
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_name, email, extra_contact_info, report_id,
			date_range_begin, date_range_end, domain, adkim, aspf, p, sp, pct
		FROM reports WHERE id = $1`, id,
	).Scan(&detail.ID, &detail.OrgName, &detail.Email, &detail.ExtraContactInfo,
		&detail.ReportID, &detail.DateRangeBegin, &detail.DateRangeEnd,
		&detail.Domain, &detail.ADKIM, &detail.ASPF, &detail.Policy,
		&detail.SubdomainPolicy, &detail.Percent)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("could not load report %d: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_ip, count, disposition, dkim_result, spf_result,
			header_from, envelope_from, envelope_to
		FROM records WHERE report_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("could not load records for report %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec RecordDetail
		var sourceIP sql.NullString
		if err := rows.Scan(&rec.ID, &sourceIP, &rec.Count, &rec.Disposition,
			&rec.DKIMResult, &rec.SPFResult, &rec.HeaderFrom, &rec.EnvelopeFrom, &rec.EnvelopeTo); err != nil {
			return nil, fmt.Errorf("could not scan record: %w", err)
		}
		rec.SourceIP = sourceIP.String
		detail.Records = append(detail.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range detail.Records {
		if err := s.loadAuthResults(ctx, &detail.Records[i]); err != nil {
			return nil, err
		}
	}
	return &detail, nil
}

func (s *Store) loadAuthResults(ctx context.Context, rec *RecordDetail) error {
	dkimRows, err := s.db.QueryContext(ctx, `
		SELECT domain, selector, result, human_result
		FROM dkim_auth WHERE record_id = $1 ORDER BY id`, rec.ID)
	if err != nil {
		return fmt.Errorf("could not load dkim auth results: %w", err)
	}
	defer dkimRows.Close()
	for dkimRows.Next() {
		var d dmarc.DKIMAuthResult
		if err := dkimRows.Scan(&d.Domain, &d.Selector, &d.Result, &d.HumanResult); err != nil {
			return fmt.Errorf("could not scan dkim auth result: %w", err)
		}
		rec.DKIMAuth = append(rec.DKIMAuth, d)
	}
	if err := dkimRows.Err(); err != nil {
		return err
	}

	spfRows, err := s.db.QueryContext(ctx, `
		SELECT domain, scope, result
		FROM spf_auth WHERE record_id = $1 ORDER BY id`, rec.ID)
	if err != nil {
		return fmt.Errorf("could not load spf auth results: %w", err)
	}
	defer spfRows.Close()
	for spfRows.Next() {
		var sp dmarc.SPFAuthResult
		if err := spfRows.Scan(&sp.Domain, &sp.Scope, &sp.Result); err != nil {
			return fmt.Errorf("could not scan spf auth result: %w", err)
		}
		rec.SPFAuth = append(rec.SPFAuth, sp)
	}
	return spfRows.Err()
}

// ExportRecords returns all records matching the filter joined with their
// report, newest first, for the CSV export.
func (s *Store) ExportRecords(ctx context.Context, filter ReportFilter) ([]ExportRow, error) {
	whereSQL, args := filter.where()
	query := fmt.Sprintf(`
		SELECT r.org_name, r.domain, r.report_id, r.date_range_begin, r.date_range_end,
			rec.source_ip, rec.count, rec.disposition, rec.dkim_result, rec.spf_result,
			rec.header_from, rec.envelope_from, rec.envelope_to
		FROM reports r
		JOIN records rec ON rec.report_id = r.id
		%s
		ORDER BY r.date_range_end DESC, rec.id`, whereSQL)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not export records: %w", err)
	}
	defer rows.Close()

	var out []ExportRow
	for rows.Next() {
		var row ExportRow
		var sourceIP sql.NullString
		if err := rows.Scan(&row.OrgName, &row.Domain, &row.ReportID,
			&row.DateRangeBegin, &row.DateRangeEnd, &sourceIP, &row.Count,
			&row.Disposition, &row.DKIMResult, &row.SPFResult,
			&row.HeaderFrom, &row.EnvelopeFrom, &row.EnvelopeTo); err != nil {
			return nil, fmt.Errorf("could not scan export row: %w", err)
		}
		row.SourceIP = sourceIP.String
		out = append(out, row)
	}
	return out, rows.Err()
}
