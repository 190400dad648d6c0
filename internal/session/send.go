package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"moonlight/internal/flows"
	"moonlight/internal/models"

	"github.com/vincent-petithory/dataurl"
	"go.uber.org/zap"
)

var (
	ErrNotImage       = errors.New("uploaded file is not an image")
	ErrUploadTooLarge = errors.New("uploaded file is too large")
	ErrEmptyMessage   = errors.New("message must have text or an image")
)

// Pending is a sent turn whose reply is still loading.
type Pending struct {
	store       *Store
	dialogID    string
	User        models.ChatMessage
	Placeholder models.ChatMessage
	input       flows.ChatInput
}

// Begin appends the user turn and a loading placeholder and persists both.
// A dialog that already has a placeholder is busy.
func (s *Store) Begin(ctx context.Context, dialogID string, query flows.ChatQuery, modelID string) (*Pending, error) {
	query.Text = strings.TrimSpace(query.Text)
	if query.Empty() {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dialogs[dialogID]
	if !ok {
		return nil, ErrDialogNotFound
	}
	for _, m := range d.Messages {
		if m.IsLoading {
			return nil, ErrDialogBusy
		}
	}

	history := make([]models.ChatMessage, 0, len(d.Messages))
	for _, m := range d.Messages {
		if !m.IsLoading && m.HasContent() {
			history = append(history, m)
		}
	}

	user := models.ChatMessage{ID: s.nextMessageIDLocked(), Sender: models.SenderUser, Text: query.Text, ImageURL: query.ImageURL}
	placeholder := models.ChatMessage{ID: s.nextMessageIDLocked(), Sender: models.SenderBot, IsLoading: true}
	prevLen := len(d.Messages)
	d.Messages = append(d.Messages, user, placeholder)
	if err := s.saveLocked(ctx); err != nil {
		d.Messages = d.Messages[:prevLen]
		return nil, err
	}

	input := flows.ChatInput{Query: query, History: history, Model: modelID, DialogID: dialogID}
	if s.studio.Enabled {
		temp := s.studio.Temperature
		input.Temperature = &temp
		input.CustomSystemInstructions = s.studio.SystemInstructions
	}
	return &Pending{store: s, dialogID: dialogID, User: user, Placeholder: placeholder, input: input}, nil
}

// Complete runs the chat flow without holding the store lock and replaces
// the placeholder with the reply. A flow error is rendered into the reply
// as "Error: ..." and also returned.
func (p *Pending) Complete(ctx context.Context) (models.ChatMessage, error) {
	out, flowErr := p.store.chat.SearchAndSummarize(ctx, p.input)
	return p.finish(ctx, out, flowErr)
}

// Abort resolves the placeholder with err when the flow never ran, so the
// dialog does not stay busy.
func (p *Pending) Abort(ctx context.Context, err error) (models.ChatMessage, error) {
	return p.finish(ctx, nil, err)
}

func (p *Pending) finish(ctx context.Context, out *flows.ChatOutput, flowErr error) (models.ChatMessage, error) {
	s := p.store
	reply := models.ChatMessage{ID: p.Placeholder.ID, Sender: models.SenderBot}
	switch {
	case flowErr != nil:
		reply.Text = "Error: " + flowErr.Error()
		reply.ImageError = true
	case out == nil:
		reply.Text = flows.ApologyUnexpected
	default:
		reply.Text = out.Summary
		reply.ImageURL = out.ImageURL
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.studio.Enabled {
		s.debug = newDebugExchange(p.input, out, flowErr)
	}
	d, ok := s.dialogs[p.dialogID]
	if !ok {
		s.logger.Warn("dialog removed before reply arrived", zap.String("dialog_id", p.dialogID))
		return reply, ErrDialogNotFound
	}
	replaced := false
	for i := range d.Messages {
		if d.Messages[i].ID == p.Placeholder.ID {
			d.Messages[i] = reply
			replaced = true
			break
		}
	}
	if !replaced {
		return reply, ErrMessageNotFound
	}
	if err := s.saveLocked(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("persist reply failed", zap.String("dialog_id", p.dialogID), zap.Error(err))
		if flowErr == nil {
			return reply, err
		}
	}
	return reply, flowErr
}

// SendText sends a text turn and waits for the reply.
func (s *Store) SendText(ctx context.Context, dialogID, text, modelID string) (models.ChatMessage, error) {
	p, err := s.Begin(ctx, dialogID, flows.ChatQuery{Text: text}, modelID)
	if err != nil {
		return models.ChatMessage{}, err
	}
	return p.Complete(ctx)
}

// SendImage reads an uploaded image and sends it with optional text.
func (s *Store) SendImage(ctx context.Context, dialogID string, r io.Reader, contentType, text, modelID string, maxBytes int64) (models.ChatMessage, error) {
	uri, err := ReadImage(ctx, r, contentType, maxBytes)
	if err != nil {
		return models.ChatMessage{}, err
	}
	p, err := s.Begin(ctx, dialogID, flows.ChatQuery{Text: text, ImageURL: uri}, modelID)
	if err != nil {
		return models.ChatMessage{}, err
	}
	return p.Complete(ctx)
}

type readResult struct {
	data []byte
	err  error
}

// ReadImage reads r in the background into a data URI. The content must
// sniff as an image; the declared type is used only when it agrees.
func ReadImage(ctx context.Context, r io.Reader, contentType string, maxBytes int64) (string, error) {
	done := make(chan readResult, 1)
	go func() {
		var buf bytes.Buffer
		src := r
		if maxBytes > 0 {
			src = io.LimitReader(r, maxBytes+1)
		}
		_, err := io.Copy(&buf, src)
		done <- readResult{data: buf.Bytes(), err: err}
	}()

	var res readResult
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return "", fmt.Errorf("read upload: %w", res.err)
	}
	if maxBytes > 0 && int64(len(res.data)) > maxBytes {
		return "", ErrUploadTooLarge
	}
	if len(res.data) == 0 {
		return "", ErrNotImage
	}

	sniffed := http.DetectContentType(res.data)
	if !strings.HasPrefix(sniffed, "image/") {
		return "", ErrNotImage
	}
	mediaType := sniffed
	if declared, _, err := mime.ParseMediaType(contentType); err == nil && strings.HasPrefix(declared, "image/") {
		mediaType = declared
	}
	return dataurl.New(res.data, mediaType).String(), nil
}

// DebugExchange is the last raw request and response seen in studio mode.
type DebugExchange struct {
	Request  flows.ChatInput   `json:"request"`
	Response *flows.ChatOutput `json:"response,omitempty"`
	Error    string            `json:"error,omitempty"`
	At       time.Time         `json:"at"`
}

func newDebugExchange(in flows.ChatInput, out *flows.ChatOutput, err error) *DebugExchange {
	ex := &DebugExchange{Request: in, Response: out, At: time.Now().UTC()}
	if err != nil {
		ex.Error = err.Error()
	}
	return ex
}
