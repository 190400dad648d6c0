package flows

import (
	"testing"

	"moonlight/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	const upload = "data:image/png;base64,AAAA"
	cases := []struct {
		name    string
		query   ChatQuery
		intent  Intent
		search  bool
		image   bool
		require bool
		json    bool
	}{
		{"greeting", ChatQuery{Text: "Hello!"}, IntentGreeting, false, false, false, false},
		{"thanks with trailer", ChatQuery{Text: "thank you so much"}, IntentGreeting, false, false, false, false},
		{"draw", ChatQuery{Text: "draw a cat"}, IntentImageRequest, true, true, true, false},
		{"generate image", ChatQuery{Text: "Generate an image of a sunset"}, IntentImageRequest, true, true, true, false},
		{"information", ChatQuery{Text: "What is Ubuntu?"}, IntentInformation, true, true, false, false},
		{"information as json", ChatQuery{Text: "Give me the facts about Linux in JSON"}, IntentInformation, true, true, false, true},
		{"upload question", ChatQuery{Text: "what is in this picture?", ImageURL: upload}, IntentUploadedImage, true, false, false, false},
		{"upload edit", ChatQuery{Text: "make it blue", ImageURL: upload}, IntentUploadedImage, true, true, true, false},
		{"upload only", ChatQuery{ImageURL: upload}, IntentUploadedImage, true, false, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Decide(tc.query, nil)
			assert.Equal(t, tc.intent, d.Intent)
			assert.Equal(t, tc.search, d.OfferSearch, "offer search")
			assert.Equal(t, tc.image, d.OfferImage, "offer image")
			assert.Equal(t, tc.require, d.RequireImage, "require image")
			assert.Equal(t, tc.json, d.JSONSummary, "json summary")
		})
	}
}

func TestDecideLanguage(t *testing.T) {
	french := "Bonjour, pouvez-vous m'expliquer comment fonctionne la photosynthèse chez les plantes vertes ?"
	russian := "Расскажи мне, пожалуйста, подробно об истории города Москвы и его архитектуре."

	assert.Equal(t, "fr", Decide(ChatQuery{Text: french}, nil).Language.Code)
	assert.Equal(t, "French", Decide(ChatQuery{Text: french}, nil).Language.Name)
	assert.Equal(t, "ru", Decide(ChatQuery{Text: russian}, nil).Language.Code)
	assert.Equal(t, english, Decide(ChatQuery{Text: "ok"}, nil).Language)

	history := []models.ChatMessage{
		{ID: "1", Sender: models.SenderUser, Text: french},
		{ID: "2", Sender: models.SenderBot, Text: "Bien sûr !"},
	}
	d := Decide(ChatQuery{ImageURL: "data:image/png;base64,AAAA"}, history)
	assert.Equal(t, "fr", d.Language.Code)
}
