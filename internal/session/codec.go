package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"moonlight/internal/models"
)

// Storage keys, shared with existing browser data.
const (
	KeyChatData     = "noxGptChatData_v2"
	KeyActiveDialog = "noxGptChatActiveDialogId_v1"
	KeyStudioMode   = "noxGptStudioMode_v1"
	KeyStudioTemp   = "noxGptStudioTemperature_v1"
)

const (
	defaultDialogID   = "chat-1"
	defaultDialogName = "Chat 1"

	minTemperature = 0
	maxTemperature = 2
)

var errCorruptData = errors.New("stored chat data is unreadable")

type storedDialog struct {
	Messages []models.ChatMessage `json:"messages"`
	Name     string               `json:"name"`
}

type looseDialog struct {
	Messages []json.RawMessage `json:"messages"`
	Name     string            `json:"name"`
}

// encodeDialogs renders the chat data key. Loading flags are stripped and
// images that failed to render are dropped.
func encodeDialogs(dialogs map[string]*models.Dialog) (string, error) {
	out := make(map[string]storedDialog, len(dialogs))
	for id, d := range dialogs {
		msgs := make([]models.ChatMessage, 0, len(d.Messages))
		for _, m := range d.Messages {
			m.IsLoading = false
			if m.ImageError {
				m.ImageURL = ""
			}
			msgs = append(msgs, m)
		}
		out[id] = storedDialog{Messages: msgs, Name: d.Name}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode chat data: %w", err)
	}
	return string(b), nil
}

// decodeDialogs parses the chat data key. Entries that do not decode are
// skipped; errCorruptData is returned when nothing usable remains.
func decodeDialogs(raw string) (map[string]*models.Dialog, int, error) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", errCorruptData, err)
	}

	skipped := 0
	dialogs := make(map[string]*models.Dialog, len(entries))
	for id, entry := range entries {
		id = strings.TrimSpace(id)
		var ld looseDialog
		if id == "" || json.Unmarshal(entry, &ld) != nil {
			skipped++
			continue
		}
		d := &models.Dialog{ID: id, Name: strings.TrimSpace(ld.Name), Messages: make([]models.ChatMessage, 0, len(ld.Messages))}
		if d.Name == "" {
			d.Name = defaultName(id)
		}
		for _, rm := range ld.Messages {
			m, ok := decodeMessage(rm)
			if !ok {
				skipped++
				continue
			}
			d.Messages = append(d.Messages, m)
		}
		dialogs[id] = d
	}
	if len(dialogs) == 0 {
		return nil, skipped, fmt.Errorf("%w: no dialogs", errCorruptData)
	}
	return dialogs, skipped, nil
}

func decodeMessage(raw json.RawMessage) (models.ChatMessage, bool) {
	var m models.ChatMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, false
	}
	if m.ID == "" || (m.Sender != models.SenderUser && m.Sender != models.SenderBot) {
		return m, false
	}
	m.IsLoading = false
	if m.ImageError {
		m.ImageURL = ""
	}
	if !m.HasContent() {
		return m, false
	}
	return m, true
}

func encodeBool(v bool) string {
	return strconv.FormatBool(v)
}

func decodeBool(raw string) bool {
	return strings.TrimSpace(raw) == "true"
}

func encodeTemperature(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', -1, 32)
}

func decodeTemperature(raw string, fallback float32) float32 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 32)
	if err != nil || v < minTemperature || v > maxTemperature {
		return fallback
	}
	return float32(v)
}

// dialogNumber returns N for ids of the form chat-N.
func dialogNumber(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, "chat-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func defaultName(id string) string {
	if n, ok := dialogNumber(id); ok {
		return fmt.Sprintf("Chat %d", n)
	}
	return id
}

// lessID orders chat-N ids numerically, ahead of any other id.
func lessID(a, b string) bool {
	na, aok := dialogNumber(a)
	nb, bok := dialogNumber(b)
	switch {
	case aok && bok:
		return na < nb
	case aok != bok:
		return aok
	default:
		return a < b
	}
}

func sortedIDs(dialogs map[string]*models.Dialog) []string {
	ids := make([]string, 0, len(dialogs))
	for id := range dialogs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })
	return ids
}
