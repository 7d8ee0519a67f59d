package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"dmarcwatch/internal/dmarc"
)

// Result signals the outcome of a StoreReport call.
type Result int

const (
	Inserted Result = iota
	AlreadyExists
)

// Store persists normalized reports and the per-email provenance markers.
// It holds a database/sql pool for the process lifetime. Report idempotency
// is check-then-insert which is only safe with a single writer, concurrent
// deployments need to turn the check into an atomic insert-if-absent.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(driver, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// StoreReport writes the full aggregate (report, records, auth results) in
// one transaction. A report with a known report_id is left untouched and
// reported as AlreadyExists. On any failure the transaction is rolled back
// and the error surfaced.
func (s *Store) StoreReport(ctx context.Context, report *dmarc.Report) (Result, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("could not begin transaction: %w", err)
	}
	// no-op after a successful commit
	defer tx.Rollback() // nolint: errcheck

	var existing int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM reports WHERE report_id = $1`, report.ReportID).Scan(&existing)
	switch {
	case err == nil:
		s.logger.Debug("report already stored", "report_id", report.ReportID)
		return AlreadyExists, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("could not check for existing report %s: %w", report.ReportID, err)
	}

	var reportID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO reports (
			org_name, email, extra_contact_info, report_id,
			date_range_begin, date_range_end, domain,
			adkim, aspf, p, sp, pct, raw_xml
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		report.OrgName, report.Email, report.ExtraContactInfo, report.ReportID,
		report.DateRangeBegin, report.DateRangeEnd, report.Domain,
		report.ADKIM, report.ASPF, report.Policy, report.SubdomainPolicy,
		report.Percent, report.RawXML,
	).Scan(&reportID)
	if err != nil {
		return 0, fmt.Errorf("could not insert report %s: %w", report.ReportID, err)
	}

	for _, rec := range report.Records {
		var recordID int64
		err = tx.QueryRowContext(ctx, `
			INSERT INTO records (
				report_id, source_ip, count, disposition,
				dkim_result, spf_result, header_from,
				envelope_from, envelope_to
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id`,
			reportID, nullString(rec.SourceIP), rec.Count, rec.Disposition,
			rec.DKIMResult, rec.SPFResult, rec.HeaderFrom,
			rec.EnvelopeFrom, rec.EnvelopeTo,
		).Scan(&recordID)
		if err != nil {
			return 0, fmt.Errorf("could not insert record for report %s: %w", report.ReportID, err)
		}

		for _, d := range rec.DKIMAuth {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO dkim_auth (record_id, domain, selector, result, human_result)
				VALUES ($1, $2, $3, $4, $5)`,
				recordID, d.Domain, d.Selector, d.Result, d.HumanResult,
			); err != nil {
				return 0, fmt.Errorf("could not insert dkim auth result: %w", err)
			}
		}

		for _, spf := range rec.SPFAuth {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO spf_auth (record_id, domain, scope, result)
				VALUES ($1, $2, $3, $4)`,
				recordID, spf.Domain, spf.Scope, spf.Result,
			); err != nil {
				return 0, fmt.Errorf("could not insert spf auth result: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("could not commit report %s: %w", report.ReportID, err)
	}

	s.logger.Info("stored report", "report_id", report.ReportID, "domain", report.Domain, "records", len(report.Records))
	return Inserted, nil
}

// IsEmailProcessed reports whether an email was already handled in an
// earlier cycle.
func (s *Store) IsEmailProcessed(ctx context.Context, messageID string) (bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM processed_emails WHERE message_id = $1`, messageID).Scan(&id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, fmt.Errorf("could not check processed email %s: %w", messageID, err)
	}
}

// MarkEmailProcessed records the provenance marker. Marking the same
// message id twice is a no-op.
func (s *Store) MarkEmailProcessed(ctx context.Context, messageID, subject, source string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_emails (message_id, subject, source)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id) DO NOTHING`,
		messageID, subject, source,
	)
	if err != nil {
		return fmt.Errorf("could not mark email %s as processed: %w", messageID, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{
		String: s,
		Valid:  s != "",
	}
}
