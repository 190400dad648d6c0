package models

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// ChatMessage is one entry of a dialog. IsLoading marks the placeholder shown
// while a flow call is outstanding and is never persisted.
type ChatMessage struct {
	ID         string `json:"id"`
	Sender     Sender `json:"sender"`
	Text       string `json:"text"`
	ImageURL   string `json:"imageUrl,omitempty"`
	IsLoading  bool   `json:"isLoading,omitempty"`
	ImageError bool   `json:"imageError,omitempty"`
}

// HasContent reports whether the message carries text or an image.
func (m ChatMessage) HasContent() bool {
	return m.Text != "" || m.ImageURL != ""
}
