package artifacts

import "strings"

const (
	maxNameLength   = 50
	fallbackImgName = "ai-image"
)

// DownloadName builds the file name offered when saving a generated image.
// Characters outside [a-zA-Z0-9_.-] become underscores, counted per UTF-16
// unit so names match the ones browsers already produced.
func DownloadName(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return fallbackImgName + ".png"
	}
	var b strings.Builder
	for _, r := range prompt {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		case r > 0xFFFF:
			b.WriteString("__")
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if len(name) > maxNameLength {
		name = name[:maxNameLength]
	}
	return name + ".png"
}
