// Package chat assembles model prompts from the session and relays replies.
package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/doctalk/internal/config"
	"github.com/hyperjump/doctalk/internal/extract"
	"github.com/hyperjump/doctalk/internal/fileid"
	"github.com/hyperjump/doctalk/internal/llm"
	"github.com/hyperjump/doctalk/internal/models"
	"github.com/hyperjump/doctalk/internal/session"
	"github.com/hyperjump/doctalk/internal/storage"
)

// DocumentPreamble introduces the document text in the second system message.
const DocumentPreamble = "The user has uploaded a document. Use the following text as context when answering questions:\n\n"

const (
	eventBuffer    = 16
	archiveTimeout = 5 * time.Second
	finalEventWait = time.Second
)

// ErrReplyTimeout ends a reply that ran past the request deadline.
var ErrReplyTimeout = fmt.Errorf("reply timed out: %w", context.DeadlineExceeded)

// Event is one item of a streamed reply. An event with Err set is the last one.
type Event struct {
	Text string
	Err  error
}

// Service orchestrates uploads and chat exchanges against a single session.
type Service struct {
	store        *session.Store
	client       llm.ChatClient
	extractor    *extract.Extractor
	archive      storage.Archive
	systemPrompt string
	fileExts     []string
	logger       *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithArchive records documents and completed exchanges in a.
func WithArchive(a storage.Archive) Option {
	return func(s *Service) { s.archive = a }
}

// WithSystemPrompt overrides the persona system message.
func WithSystemPrompt(p string) Option {
	return func(s *Service) {
		if p != "" {
			s.systemPrompt = p
		}
	}
}

// WithFileExtensions limits IngestFile to files with one of exts (".txt", ".pdf", ...).
// Uploads are not affected.
func WithFileExtensions(exts []string) Option {
	return func(s *Service) { s.fileExts = exts }
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService returns a Service over store that generates replies with client.
func NewService(store *session.Store, client llm.ChatClient, extractor *extract.Extractor, opts ...Option) *Service {
	s := &Service{
		store:        store,
		client:       client,
		extractor:    extractor,
		systemPrompt: config.DefaultSystemPrompt,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BuildMessages returns the message sequence sent to the model: the persona, the document
// (only when it has text), the history, and finally the new prompt.
func BuildMessages(systemPrompt string, doc *models.Document, history []models.Turn, prompt string) []models.Turn {
	msgs := make([]models.Turn, 0, len(history)+3)
	msgs = append(msgs, models.Turn{Role: models.RoleSystem, Content: systemPrompt})
	if doc != nil && doc.Text != "" {
		msgs = append(msgs, models.Turn{Role: models.RoleSystem, Content: DocumentPreamble + doc.Text})
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, models.Turn{Role: models.RoleUser, Content: prompt})
	return msgs
}

// Stream generates a reply to prompt. Fragments are delivered as they arrive. On clean
// completion the exchange is appended to the history before the channel is closed; after an
// error or cancellation nothing is appended. A model failure or an exceeded ctx deadline ends
// the stream with an error event; plain cancellation just closes it. Callers drain the
// channel until it is closed.
func (s *Service) Stream(ctx context.Context, prompt string) <-chan Event {
	out := make(chan Event, eventBuffer)
	snap := s.store.Snapshot()
	msgs := BuildMessages(s.systemPrompt, snap.Document, snap.History, prompt)

	go func() {
		defer close(out)
		start := time.Now()

		send := func(ev Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		// The error event is delivered even when ctx is done so a timed out reply
		// does not end like a complete one.
		fail := func(err error) {
			switch {
			case errors.Is(ctx.Err(), context.DeadlineExceeded):
				err = ErrReplyTimeout
			case !errors.Is(err, llm.ErrModel):
				err = fmt.Errorf("%w: %v", llm.ErrModel, err)
			}
			s.logger.Warn("chat failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
			t := time.NewTimer(finalEventWait)
			defer t.Stop()
			select {
			case out <- Event{Err: err}:
			case <-t.C:
			}
		}

		chunks, err := s.client.ChatStream(ctx, msgs)
		if err != nil {
			fail(err)
			return
		}

		var reply strings.Builder
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case c, ok := <-chunks:
				if !ok {
					break loop
				}
				if c.Err != nil {
					fail(c.Err)
					return
				}
				if c.Content == "" {
					continue
				}
				reply.WriteString(c.Content)
				if !send(Event{Text: c.Content}) {
					break loop
				}
			}
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			fail(ctx.Err())
			return
		}
		if ctx.Err() != nil {
			s.logger.Info("chat cancelled", zap.Error(ctx.Err()), zap.Int("partial_bytes", reply.Len()))
			return
		}

		text := reply.String()
		if !s.store.AppendExchange(snap.Generation, prompt, text) {
			s.logger.Info("session changed during chat, exchange not recorded")
			return
		}
		s.logger.Debug("chat completed",
			zap.Int("prompt_bytes", len(prompt)),
			zap.Int("reply_bytes", len(text)),
			zap.Duration("elapsed", time.Since(start)),
		)
		ex := &models.Exchange{Prompt: prompt, Response: text}
		if snap.Document != nil {
			ex.DocumentID = snap.Document.ID
		}
		s.recordExchange(ctx, ex)
	}()
	return out
}

// Complete generates a reply to prompt and returns it whole. It never returns partial text.
func (s *Service) Complete(ctx context.Context, prompt string) (string, error) {
	var reply strings.Builder
	for ev := range s.Stream(ctx, prompt) {
		if ev.Err != nil {
			return "", ev.Err
		}
		reply.WriteString(ev.Text)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return reply.String(), nil
}

// Ingest extracts filename's text from content and makes it the current document,
// clearing the history. On failure the previous document is kept.
func (s *Service) Ingest(ctx context.Context, filename string, content []byte) (*models.Document, error) {
	text, err := s.extractor.ExtractBytes(content, filename)
	if err != nil {
		s.logger.Warn("extraction failed", zap.String("name", filename), zap.Error(err))
		return nil, err
	}
	doc := models.NewDocument(filename, text, fileid.Checksum(content))
	s.store.SetDocument(doc)
	s.logger.Info("document loaded",
		zap.String("id", doc.ID),
		zap.String("name", doc.Name),
		zap.Int("length", doc.Length),
	)
	s.recordDocument(ctx, doc)
	return doc, nil
}

// IngestFile reads path and ingests it under its base name.
func (s *Service) IngestFile(ctx context.Context, path string) (*models.Document, error) {
	if len(s.fileExts) > 0 && !slices.Contains(s.fileExts, extract.Ext(path)) {
		return nil, fmt.Errorf("%w: %s", extract.ErrUnsupported, filepath.Base(path))
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return s.Ingest(ctx, filepath.Base(path), content)
}

// Document returns the current document, or nil.
func (s *Service) Document() *models.Document {
	return s.store.Document()
}

// History returns a copy of the conversation.
func (s *Service) History() []models.Turn {
	return s.store.History()
}

// Reset clears the conversation and keeps the document.
func (s *Service) Reset() {
	s.store.Reset()
	s.logger.Info("history cleared")
}

func (s *Service) recordDocument(ctx context.Context, doc *models.Document) {
	if s.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()
	if err := s.archive.RecordDocument(ctx, doc); err != nil {
		s.logger.Warn("archive document failed", zap.String("id", doc.ID), zap.Error(err))
	}
}

func (s *Service) recordExchange(ctx context.Context, ex *models.Exchange) {
	if s.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()
	if err := s.archive.RecordExchange(ctx, ex); err != nil {
		s.logger.Warn("archive exchange failed", zap.Error(err))
	}
}
