package flows

import (
	"regexp"
	"strings"
	"unicode"

	"moonlight/internal/models"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

type Intent string

const (
	IntentGreeting      Intent = "greeting"
	IntentUploadedImage Intent = "uploaded_image"
	IntentImageRequest  Intent = "image_request"
	IntentInformation   Intent = "information"
)

// Language is the reply language chosen for a turn.
type Language struct {
	Code string
	Name string
}

var english = Language{Code: "en", Name: "English"}

// Decision is what the chat flow does with the latest turn: which language to
// answer in, which tools the model may call and the shape of the summary.
type Decision struct {
	Language     Language
	Intent       Intent
	OfferSearch  bool
	OfferImage   bool
	RequireImage bool
	JSONSummary  bool
}

var (
	reJSON = regexp.MustCompile(`(?i)\bjson\b`)

	reImageAsk = regexp.MustCompile(`(?i)(\b(draw|paint|sketch|illustrate)\b` +
		`|\b(generate|create|make|produce|design|render|show me|give me)\b.{0,40}\b(image|picture|pic|photo|drawing|illustration|logo|icon|wallpaper|painting|portrait|artwork|poster)s?\b` +
		`|нарисуй|сгенерируй.{0,30}(изображение|картинку|фото)|создай.{0,30}(изображение|картинку)` +
		`|dessine|génère.{0,30}image|crée.{0,30}image` +
		`|dibuja|genera.{0,30}(imagen|foto)|crea.{0,30}imagen` +
		`|zeichne|erstelle.{0,30}bild|generiere.{0,30}bild` +
		`|画一|生成.{0,10}(图|图片|图像)|描いて|画像を生成)`)

	reImageEdit = regexp.MustCompile(`(?i)(\b(edit|modify|change|alter|turn|transform|restyle|redraw|recolou?r|convert)\b.{0,40}\b(image|picture|photo|it|this|that)\b` +
		`|\b(new|another|different|similar) (image|picture|version)\b` +
		`|\bmake (it|this|that)\b)`)

	greetingTrailers = map[string]bool{
		"there": true, "moonlight": true, "bot": true, "friend": true, "everyone": true,
		"again": true, "so": true, "much": true, "a": true, "lot": true, "all": true,
	}

	greetings = map[string]bool{
		"hi": true, "hello": true, "hey": true, "hiya": true, "howdy": true, "yo": true, "sup": true,
		"good morning": true, "good afternoon": true, "good evening": true, "good night": true,
		"thanks": true, "thank you": true, "thx": true, "ty": true, "cheers": true,
		"how are you": true, "how are you doing": true, "whats up": true, "what's up": true,
		"nice to meet you": true, "bye": true, "goodbye": true, "see you": true, "ok thanks": true,
		"bonjour": true, "salut": true, "merci": true, "bonsoir": true,
		"hola": true, "gracias": true, "buenos dias": true, "buenos días": true, "buenas tardes": true,
		"hallo": true, "guten tag": true, "guten morgen": true, "danke": true,
		"ciao": true, "grazie": true, "buongiorno": true,
		"olá": true, "ola": true, "obrigado": true, "obrigada": true,
		"привет": true, "здравствуйте": true, "спасибо": true, "добрый день": true,
		"こんにちは": true, "ありがとう": true, "你好": true, "谢谢": true, "안녕하세요": true,
	}
)

// Decide applies the chat decision policy to the latest turn.
func Decide(query ChatQuery, history []models.ChatMessage) Decision {
	text := strings.TrimSpace(query.Text)
	d := Decision{
		Language:    detectLanguage(text, history),
		JSONSummary: reJSON.MatchString(text),
	}

	switch {
	case query.ImageURL != "":
		d.Intent = IntentUploadedImage
		d.OfferSearch = true
		if reImageAsk.MatchString(text) || reImageEdit.MatchString(text) {
			d.OfferImage = true
			d.RequireImage = true
		}
	case isGreeting(text):
		d.Intent = IntentGreeting
		d.JSONSummary = false
	case reImageAsk.MatchString(text):
		d.Intent = IntentImageRequest
		d.OfferSearch = true
		d.OfferImage = true
		d.RequireImage = true
	default:
		d.Intent = IntentInformation
		d.OfferSearch = true
		d.OfferImage = true
	}
	return d
}

func isGreeting(text string) bool {
	norm := strings.ToLower(strings.TrimFunc(text, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
	}))
	if norm == "" {
		return false
	}
	words := strings.FieldsFunc(norm, func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '\'')
	})
	for len(words) > 1 && greetingTrailers[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	return greetings[strings.Join(words, " ")]
}

// detectLanguage picks the language of the latest text, falling back to the
// most recent user text in history and then English. Short Latin-script
// input that cannot be identified reliably is treated as English.
func detectLanguage(text string, history []models.ChatMessage) Language {
	if text == "" {
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Sender == models.SenderUser && strings.TrimSpace(history[i].Text) != "" {
				text = history[i].Text
				break
			}
		}
	}
	if text == "" {
		return english
	}
	info := whatlanggo.Detect(text)
	code := info.Lang.Iso6391()
	if code == "" {
		return english
	}
	if !info.IsReliable() && whatlanggo.DetectScript(text) == unicode.Latin {
		return english
	}
	tag, err := language.Parse(code)
	if err != nil {
		return english
	}
	name := display.English.Tags().Name(tag)
	if name == "" {
		name = info.Lang.String()
	}
	return Language{Code: code, Name: name}
}
