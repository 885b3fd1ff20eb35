package resolver

import (
	"strings"
	"unicode"

	"github.com/ifuryst/ripplecast/internal/models"
)

// NormalizeLineEndings converts \r\n and lone \r to \n.
func NormalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// Clamp limits text to limit characters. When a line break falls within the final tenth of the
// limit the text is cut there, otherwise it is cut exactly at the limit.
func Clamp(text string, limit int) string {
	text = NormalizeLineEndings(text)
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}

	cut := runes[:limit]
	floor := limit - limit/10
	for i := len(cut) - 1; i >= floor; i-- {
		if cut[i] == '\n' {
			cut = cut[:i]
			break
		}
	}
	return strings.TrimRightFunc(string(cut), unicode.IsSpace)
}

// SelectCaption applies caption precedence: account override, then platform caption, then base caption.
func SelectCaption(content models.ContentSnapshot, account *models.SocialAccount, platform models.Platform) string {
	if account != nil {
		if c := content.AccountCaptions[account.ID]; strings.TrimSpace(c) != "" {
			return c
		}
	}
	if c := content.PlatformCaptions[platform]; strings.TrimSpace(c) != "" {
		return c
	}
	return content.Caption
}
