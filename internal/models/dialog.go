package models

// Dialog is a named conversation tab.
type Dialog struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Messages []ChatMessage `json:"messages"`
}

// Clone returns a copy that shares no message storage with d.
func (d *Dialog) Clone() *Dialog {
	if d == nil {
		return nil
	}
	out := &Dialog{ID: d.ID, Name: d.Name, Messages: make([]ChatMessage, len(d.Messages))}
	copy(out.Messages, d.Messages)
	return out
}
