package flows

import (
	"bytes"
	"encoding/json"
	"errors"
)

// ChatQuery is the latest user turn. On the wire it is either a plain string
// or an object {"text"?: string, "imageUrl": string}.
type ChatQuery struct {
	Text     string
	ImageURL string
}

type chatQueryObject struct {
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"imageUrl"`
}

func (q ChatQuery) MarshalJSON() ([]byte, error) {
	if q.ImageURL == "" {
		return json.Marshal(q.Text)
	}
	return json.Marshal(chatQueryObject{Text: q.Text, ImageURL: q.ImageURL})
}

func (q *ChatQuery) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*q = ChatQuery{}
		return nil
	}
	if data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*q = ChatQuery{Text: text}
		return nil
	}
	if data[0] != '{' {
		return errors.New("query must be a string or an object")
	}
	var obj chatQueryObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*q = ChatQuery{Text: obj.Text, ImageURL: obj.ImageURL}
	return nil
}

// Empty reports whether the query carries neither text nor an image.
func (q ChatQuery) Empty() bool {
	return q.ImageURL == "" && q.Text == ""
}
