package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	goimap "github.com/emersion/go-imap"

	// needed to handle other charsets too
	_ "github.com/emersion/go-message/charset"
	_ "github.com/lib/pq"

	"dmarcwatch/internal/config"
	"dmarcwatch/internal/imap"
	"dmarcwatch/internal/ingest"
	"dmarcwatch/internal/logging"
	"dmarcwatch/internal/store"
)

const errorBackoff = time.Minute

func main() {
	debug := flag.Bool("debug", false, "Print debug output")
	flag.Parse()

	logger := logging.New(*debug)

	conf := config.Load()
	if err := conf.ValidateFetcher(); err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, conf, logger); err != nil {
		logger.Error("fetcher failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, conf *config.Configuration, logger *slog.Logger) error {
	st, err := store.New("postgres", conf.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}

	pipeline := ingest.NewPipeline(st, logger)

	for {
		logger.Info("starting fetch cycle")
		delay := conf.FetchInterval
		if err := fetchCycle(ctx, conf, pipeline, logger); err != nil {
			// only log the error here so we keep the loop running
			logger.Error("fetch cycle failed", "err", err)
			delay = errorBackoff
		} else {
			logger.Info("fetch cycle finished")
		}

		select {
		case <-ctx.Done():
			logger.Info("context done")
			return nil
		case <-time.After(delay):
		}
	}
}

func fetchCycle(ctx context.Context, conf *config.Configuration, pipeline *ingest.Pipeline, logger *slog.Logger) error {
	c, err := imap.Connect(conf.IMAP)
	if err != nil {
		return err
	}
	logger.Debug("connected to imap server")

	if err := c.Login(conf.IMAP.User, conf.IMAP.Password); err != nil {
		return fmt.Errorf("could not login: %w", err)
	}
	logger.Debug("successful login")

	defer func() {
		if err := c.Logout(); err != nil {
			logger.Error("error on logout", "err", err)
		}
	}()

	hasFolder, err := imap.HasFolder(c, conf.IMAP.Folder)
	if err != nil {
		return fmt.Errorf("could not check if folder %s exists: %w", conf.IMAP.Folder, err)
	}
	if !hasFolder {
		return fmt.Errorf("imap folder %s not found in account", conf.IMAP.Folder)
	}

	mbox, err := c.Select(conf.IMAP.Folder, true)
	if err != nil {
		return fmt.Errorf("could not select folder %s: %w", conf.IMAP.Folder, err)
	}
	logger.Info("opened folder", "name", mbox.Name, "messages", mbox.Messages, "unseen", mbox.Unseen)

	ids, err := c.Search(imap.SearchCriteria(conf.FetchDaysLimit, time.Now()))
	if err != nil {
		return fmt.Errorf("could not search for mails: %w", err)
	}
	logger.Debug("search finished", "candidates", len(ids))
	if len(ids) == 0 {
		return nil
	}

	seqset := new(goimap.SeqSet)
	seqset.AddNum(ids...)

	section := &goimap.BodySectionName{}
	items := []goimap.FetchItem{
		section.FetchItem(),
		goimap.FetchEnvelope,
		goimap.FetchFlags,
		goimap.FetchInternalDate,
		goimap.FetchUid,
	}

	messages := make(chan *goimap.Message)
	done := make(chan error)
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	inserted := 0
	for msg := range messages {
		n, err := processMessage(ctx, pipeline, msg, logger)
		if err != nil {
			logger.Error("could not process message", "uid", msg.Uid, "err", err)
		}
		inserted += n
	}

	if err := <-done; err != nil {
		return fmt.Errorf("error on fetch: %w", err)
	}

	logger.Info("cycle done", "inserted", inserted)
	return nil
}

func processMessage(ctx context.Context, pipeline *ingest.Pipeline, msg *goimap.Message, logger *slog.Logger) (int, error) {
	r := msg.GetBody(&goimap.BodySectionName{})
	if r == nil {
		return 0, fmt.Errorf("server didn't return message body")
	}

	unit := ingest.Unit{
		MessageID: fmt.Sprintf("unknown-%d", msg.SeqNum),
	}
	if msg.Envelope != nil {
		if msg.Envelope.MessageId != "" {
			unit.MessageID = msg.Envelope.MessageId
		}
		unit.Subject = msg.Envelope.Subject
	}

	attachments, err := imap.CollectAttachments(r, logger)
	if err != nil {
		return 0, err
	}
	unit.Attachments = attachments

	return pipeline.ProcessEmail(ctx, unit, "imap")
}
