package store

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS reports (
		id BIGSERIAL PRIMARY KEY,
		org_name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		extra_contact_info TEXT NOT NULL DEFAULT '',
		report_id TEXT NOT NULL UNIQUE,
		date_range_begin TIMESTAMPTZ NOT NULL,
		date_range_end TIMESTAMPTZ NOT NULL,
		domain TEXT NOT NULL,
		adkim TEXT NOT NULL DEFAULT 'relaxed',
		aspf TEXT NOT NULL DEFAULT 'relaxed',
		p TEXT NOT NULL,
		sp TEXT NOT NULL,
		pct INTEGER NOT NULL DEFAULT 100,
		raw_xml TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS records (
		id BIGSERIAL PRIMARY KEY,
		report_id BIGINT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
		source_ip TEXT,
		count BIGINT NOT NULL DEFAULT 0,
		disposition TEXT NOT NULL DEFAULT '',
		dkim_result TEXT NOT NULL DEFAULT '',
		spf_result TEXT NOT NULL DEFAULT '',
		header_from TEXT NOT NULL DEFAULT '',
		envelope_from TEXT NOT NULL DEFAULT '',
		envelope_to TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS dkim_auth (
		id BIGSERIAL PRIMARY KEY,
		record_id BIGINT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
		domain TEXT NOT NULL DEFAULT '',
		selector TEXT NOT NULL DEFAULT '',
		result TEXT NOT NULL DEFAULT '',
		human_result TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS spf_auth (
		id BIGSERIAL PRIMARY KEY,
		record_id BIGINT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
		domain TEXT NOT NULL DEFAULT '',
		scope TEXT NOT NULL DEFAULT 'mfrom',
		result TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS processed_emails (
		id BIGSERIAL PRIMARY KEY,
		message_id TEXT NOT NULL UNIQUE,
		subject TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_records_report_id ON records(report_id)`,
	`CREATE INDEX IF NOT EXISTS idx_records_source_ip ON records(source_ip)`,
	`CREATE INDEX IF NOT EXISTS idx_reports_domain ON reports(domain)`,
	`CREATE INDEX IF NOT EXISTS idx_reports_date_range_end ON reports(date_range_end)`,
}

// EnsureSchema creates the Postgres tables and indexes if they do not exist
// yet. Safe to run on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("could not apply schema statement: %w", err)
		}
	}
	return nil
}
