package imap

import (
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"dmarcwatch/internal/config"
	"dmarcwatch/internal/dmarc"
	"dmarcwatch/internal/ingest"
)

// Connect dials the server over TLS. The caller is responsible for login
// and logout.
func Connect(conf config.IMAPConfig) (*client.Client, error) {
	tlsConfig := tls.Config{} // nolint: gosec
	if conf.IgnoreCert {
		tlsConfig.InsecureSkipVerify = true // nolint: gosec
	}
	c, err := client.DialTLS(conf.Addr(), &tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", conf.Addr(), err)
	}
	c.Timeout = 60 * time.Second
	return c, nil
}

func HasFolder(c *client.Client, folderName string) (bool, error) {
	mailboxes := make(chan *goimap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	hasFolder := false
	for m := range mailboxes {
		if m.Name == folderName {
			hasFolder = true
			break
		}
	}

	if err := <-done; err != nil {
		return false, err
	}

	return hasFolder, nil
}

// SearchCriteria builds the candidate search. With a day limit the search
// is SINCE now minus that many days, without one every mail in the folder
// is a candidate.
func SearchCriteria(daysLimit int, now time.Time) *goimap.SearchCriteria {
	criteria := goimap.NewSearchCriteria()
	if daysLimit > 0 {
		criteria.Since = now.AddDate(0, 0, -daysLimit)
	}
	return criteria
}

// CollectAttachments walks the MIME parts of one raw message and returns
// every part that looks like a report container. Regular attachments are
// taken as is, inline parts only when their magic bytes identify an
// archive, some reporters inline the report instead of attaching it.
func CollectAttachments(r io.Reader, logger *slog.Logger) ([]ingest.Attachment, error) {
	m, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("could not create mail reader: %w", err)
	}
	defer m.Close()

	var attachments []ingest.Attachment
	for {
		p, err := m.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("could not get next part: %w", err)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("could not read inline part: %w", err)
			}
			if !dmarc.IsArchive(b) {
				continue
			}
			_, params, err := h.ContentDisposition()
			if err != nil {
				logger.Debug("inline archive without content disposition", "err", err)
				continue
			}
			filename, ok := params["filename"]
			if !ok {
				logger.Debug("inline archive without a filename, skipping")
				continue
			}
			attachments = append(attachments, ingest.Attachment{Filename: filename, Content: b})
		case *mail.AttachmentHeader:
			filename, err := h.Filename()
			if err != nil {
				return nil, fmt.Errorf("could not get attachment filename: %w", err)
			}
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("could not read attachment: %w", err)
			}
			attachments = append(attachments, ingest.Attachment{Filename: filename, Content: b})
		}
	}
	return attachments, nil
}
