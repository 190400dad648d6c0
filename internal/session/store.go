package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"moonlight/internal/flows"
	"moonlight/internal/models"

	"go.uber.org/zap"
)

var (
	ErrDialogNotFound  = errors.New("dialog not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrEmptyName       = errors.New("dialog name must not be empty")
	ErrLastDialog      = errors.New("cannot delete the last dialog")
	ErrDialogBusy      = errors.New("dialog is waiting for a response")
)

// CorruptDataNotice is reported once after unreadable stored data was reset.
const CorruptDataNotice = "Saved chats could not be loaded and were reset."

// ChatRunner is the chat flow as seen by the store.
type ChatRunner interface {
	SearchAndSummarize(ctx context.Context, in flows.ChatInput) (*flows.ChatOutput, error)
}

// Options configures a Store.
type Options struct {
	DefaultTemperature float32
}

// Snapshot is a copy of the dialog list in display order.
type Snapshot struct {
	Dialogs  []models.Dialog `json:"dialogs"`
	ActiveID string          `json:"activeId"`
	Notice   string          `json:"notice,omitempty"`
}

// Store owns all dialogs of one profile. Every mutation is persisted before
// it returns; a failed write rolls the in-memory change back.
type Store struct {
	mu       sync.Mutex
	backend  Backend
	chat     ChatRunner
	dialogs  map[string]*models.Dialog
	activeID string
	studio   Studio
	debug    *DebugExchange
	notice   string
	lastID   int64 // last issued message id
	defaults Options
	logger   *zap.Logger
}

// Open loads the persisted state from backend.
func Open(ctx context.Context, backend Backend, chat ChatRunner, opts Options, logger *zap.Logger) (*Store, error) {
	s := &Store{
		backend:  backend,
		chat:     chat,
		defaults: opts,
		studio:   Studio{Temperature: opts.DefaultTemperature},
		logger:   logger.Named("session"),
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads the persisted state. Read failures reset to one empty dialog
// with a notice; only the write-back of the loaded state can fail Open.
func (s *Store) load(ctx context.Context) error {
	raw, found, err := s.backend.Get(ctx, KeyChatData)
	if err != nil {
		s.logger.Warn("chat data unavailable, starting fresh", zap.Error(err))
		s.notice = CorruptDataNotice
		found = false
	}
	var dialogs map[string]*models.Dialog
	if found {
		var skipped int
		dialogs, skipped, err = decodeDialogs(raw)
		if err != nil {
			s.logger.Warn("resetting unreadable chat data", zap.Error(err))
			if err := s.backend.Delete(ctx, KeyChatData, KeyActiveDialog); err != nil {
				return fmt.Errorf("clear chat data: %w", err)
			}
			s.notice = CorruptDataNotice
			dialogs = nil
		} else if skipped > 0 {
			s.logger.Warn("skipped invalid stored entries", zap.Int("count", skipped))
		}
	}
	if len(dialogs) == 0 {
		dialogs = map[string]*models.Dialog{
			defaultDialogID: {ID: defaultDialogID, Name: defaultDialogName, Messages: []models.ChatMessage{}},
		}
	}
	s.dialogs = dialogs
	s.seedMessageIDs()

	active, found, err := s.backend.Get(ctx, KeyActiveDialog)
	if err != nil {
		s.logger.Warn("active dialog unavailable", zap.Error(err))
		found = false
	}
	if _, ok := s.dialogs[active]; !found || !ok {
		active = sortedIDs(s.dialogs)[0]
	}
	s.activeID = active

	if raw, found, err := s.backend.Get(ctx, KeyStudioMode); err != nil {
		s.logger.Warn("studio mode unavailable", zap.Error(err))
	} else if found {
		s.studio.Enabled = decodeBool(raw)
	}
	if raw, found, err := s.backend.Get(ctx, KeyStudioTemp); err != nil {
		s.logger.Warn("studio temperature unavailable", zap.Error(err))
	} else if found {
		s.studio.Temperature = decodeTemperature(raw, s.defaults.DefaultTemperature)
	}
	return s.saveLocked(ctx)
}

// saveLocked writes dialogs and the active id. Callers hold s.mu.
func (s *Store) saveLocked(ctx context.Context) error {
	data, err := encodeDialogs(s.dialogs)
	if err != nil {
		return err
	}
	if err := s.backend.Set(ctx, KeyChatData, data); err != nil {
		return fmt.Errorf("save chat data: %w", err)
	}
	if err := s.backend.Set(ctx, KeyActiveDialog, s.activeID); err != nil {
		return fmt.Errorf("save active dialog: %w", err)
	}
	return nil
}

// List returns every dialog and the one-shot notice, which is cleared.
func (s *Store) List() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{ActiveID: s.activeID, Notice: s.notice}
	s.notice = ""
	for _, id := range sortedIDs(s.dialogs) {
		snap.Dialogs = append(snap.Dialogs, *s.dialogs[id].Clone())
	}
	return snap
}

func (s *Store) Dialog(id string) (models.Dialog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dialogs[id]
	if !ok {
		return models.Dialog{}, ErrDialogNotFound
	}
	return *d.Clone(), nil
}

func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Create adds the lowest free chat-N dialog and makes it active.
func (s *Store) Create(ctx context.Context) (models.Dialog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 1
	for {
		if _, taken := s.dialogs[fmt.Sprintf("chat-%d", n)]; !taken {
			break
		}
		n++
	}
	d := &models.Dialog{ID: fmt.Sprintf("chat-%d", n), Name: fmt.Sprintf("Chat %d", n), Messages: []models.ChatMessage{}}
	prevActive := s.activeID
	s.dialogs[d.ID] = d
	s.activeID = d.ID
	if err := s.saveLocked(ctx); err != nil {
		delete(s.dialogs, d.ID)
		s.activeID = prevActive
		return models.Dialog{}, err
	}
	s.logger.Info("dialog created", zap.String("dialog_id", d.ID))
	return *d.Clone(), nil
}

func (s *Store) Rename(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dialogs[id]
	if !ok {
		return ErrDialogNotFound
	}
	prev := d.Name
	d.Name = name
	if err := s.saveLocked(ctx); err != nil {
		d.Name = prev
		return err
	}
	return nil
}

// Delete removes a dialog and returns the active id afterwards.
func (s *Store) Delete(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dialogs[id]
	if !ok {
		return s.activeID, ErrDialogNotFound
	}
	if len(s.dialogs) == 1 {
		return s.activeID, ErrLastDialog
	}
	prevActive := s.activeID
	delete(s.dialogs, id)
	if s.activeID == id {
		s.activeID = sortedIDs(s.dialogs)[0]
	}
	if err := s.saveLocked(ctx); err != nil {
		s.dialogs[id] = d
		s.activeID = prevActive
		return s.activeID, err
	}
	s.logger.Info("dialog deleted", zap.String("dialog_id", id), zap.String("active_id", s.activeID))
	return s.activeID, nil
}

func (s *Store) Activate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dialogs[id]; !ok {
		return ErrDialogNotFound
	}
	prev := s.activeID
	s.activeID = id
	if err := s.saveLocked(ctx); err != nil {
		s.activeID = prev
		return err
	}
	return nil
}

// MarkImageError flags an image that failed to render and drops its data.
func (s *Store) MarkImageError(ctx context.Context, dialogID, msgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dialogs[dialogID]
	if !ok {
		return ErrDialogNotFound
	}
	for i := range d.Messages {
		if d.Messages[i].ID != msgID {
			continue
		}
		prev := d.Messages[i]
		d.Messages[i].ImageError = true
		d.Messages[i].ImageURL = ""
		if err := s.saveLocked(ctx); err != nil {
			d.Messages[i] = prev
			return err
		}
		return nil
	}
	return ErrMessageNotFound
}

// nextMessageIDLocked returns the creation time in unix milliseconds, bumped
// past the last issued id so ids stay strictly increasing. Callers hold s.mu.
func (s *Store) nextMessageIDLocked() string {
	id := time.Now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return strconv.FormatInt(id, 10)
}

// seedMessageIDs continues after the largest numeric id already stored.
func (s *Store) seedMessageIDs() {
	for _, d := range s.dialogs {
		for _, m := range d.Messages {
			if n, err := strconv.ParseInt(m.ID, 10, 64); err == nil && n > s.lastID {
				s.lastID = n
			}
		}
	}
}
