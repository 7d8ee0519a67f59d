package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"

	"dmarcwatch/internal/dmarc"
	"dmarcwatch/internal/store"
)

// Attachment is one filename/content pair taken from an email or the
// local filesystem.
type Attachment struct {
	Filename string
	Content  []byte
}

// Unit is one candidate email as seen by the pipeline.
type Unit struct {
	MessageID   string
	Subject     string
	Attachments []Attachment
}

// ReportStore is the slice of the store the pipeline needs.
type ReportStore interface {
	StoreReport(ctx context.Context, report *dmarc.Report) (store.Result, error)
	IsEmailProcessed(ctx context.Context, messageID string) (bool, error)
	MarkEmailProcessed(ctx context.Context, messageID, subject, source string) error
}

// Pipeline is the ingestion core shared by the live poller and the batch
// importer. The two drivers differ only in how they enumerate candidate
// units and in whether the email level provenance marker exists.
type Pipeline struct {
	store  ReportStore
	logger *slog.Logger
}

func NewPipeline(st ReportStore, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:  st,
		logger: logger,
	}
}

// ProcessAttachment extracts, parses and stores every report contained in
// one attachment and returns the number of newly inserted reports. A
// failure on one contained report does not stop the remaining ones, the
// collected errors are returned alongside the insert count.
func (p *Pipeline) ProcessAttachment(ctx context.Context, filename string, content []byte) (int, error) {
	buffers, err := dmarc.Extract(filename, content)
	if err != nil {
		return 0, err
	}
	if len(buffers) == 0 {
		p.logger.Debug("attachment contains no reports", "filename", filename)
		return 0, nil
	}

	inserted := 0
	var errs *multierror.Error
	for _, buf := range buffers {
		report, err := dmarc.Parse(buf)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		result, err := p.store.StoreReport(ctx, report)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if result == store.AlreadyExists {
			p.logger.Info("report already exists, skipping", "report_id", report.ReportID)
			continue
		}
		inserted++
	}
	return inserted, errs.ErrorOrNil()
}

// ProcessEmail runs one candidate email through the pipeline. An already
// processed email is skipped entirely. Failed attachments are logged and
// the siblings continue. The email is marked processed afterwards even
// when every attachment failed so a permanently corrupt report is not
// retried on every cycle.
func (p *Pipeline) ProcessEmail(ctx context.Context, unit Unit, source string) (int, error) {
	processed, err := p.store.IsEmailProcessed(ctx, unit.MessageID)
	if err != nil {
		return 0, err
	}
	if processed {
		p.logger.Debug("email already processed", "message_id", unit.MessageID)
		return 0, nil
	}

	p.logger.Info("processing email", "subject", unit.Subject, "attachments", len(unit.Attachments))

	inserted := 0
	for _, att := range unit.Attachments {
		n, err := p.ProcessAttachment(ctx, att.Filename, att.Content)
		inserted += n
		if err != nil {
			p.logger.Error("could not process attachment", "filename", att.Filename, "err", err)
		}
	}

	if err := p.store.MarkEmailProcessed(ctx, unit.MessageID, unit.Subject, source); err != nil {
		return inserted, err
	}
	return inserted, nil
}

// ImportPaths feeds local files and directories through the pipeline.
// Directories are walked recursively for report containers. There is no
// email level marker in batch mode, dedup relies on the report id alone.
func (p *Pipeline) ImportPaths(ctx context.Context, paths []string) (int, error) {
	total := 0
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			p.logger.Error("path not found", "path", path, "err", err)
			continue
		}
		if info.IsDir() {
			n, err := p.importDirectory(ctx, path)
			if err != nil {
				return total, err
			}
			total += n
			continue
		}
		n, err := p.importFile(ctx, path)
		if err != nil {
			p.logger.Error("could not import file", "path", path, "err", err)
		}
		total += n
	}
	return total, nil
}

func (p *Pipeline) importDirectory(ctx context.Context, dir string) (int, error) {
	total := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !isReportContainer(path) {
			return nil
		}
		n, err := p.importFile(ctx, path)
		if err != nil {
			p.logger.Error("could not import file", "path", path, "err", err)
		}
		total += n
		return nil
	})
	if err != nil {
		return total, fmt.Errorf("could not walk %s: %w", dir, err)
	}
	return total, nil
}

func (p *Pipeline) importFile(ctx context.Context, path string) (int, error) {
	p.logger.Debug("importing file", "path", path)
	content, err := os.ReadFile(path) // nolint: gosec
	if err != nil {
		return 0, fmt.Errorf("could not read %s: %w", path, err)
	}
	return p.ProcessAttachment(ctx, filepath.Base(path), content)
}

func isReportContainer(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml", ".zip", ".gz":
		return true
	default:
		return false
	}
}
