package analytics

import (
	"strings"
	"unicode/utf8"
)

const maxLabelRunes = 80

// Element is one node of a click's DOM path, as reported by the browser.
type Element struct {
	Tag       string `json:"tag"`
	Role      string `json:"role,omitempty"`
	AriaLabel string `json:"ariaLabel,omitempty"`
	Text      string `json:"text,omitempty"`
	Title     string `json:"title,omitempty"`
}

func (e Element) interactive() bool {
	tag := strings.ToLower(e.Tag)
	return tag == "button" || tag == "a" || strings.EqualFold(e.Role, "button")
}

// Closest returns the first interactive element of path, which starts at
// the click target and walks up to the document root.
func Closest(path []Element) (Element, bool) {
	for _, el := range path {
		if el.interactive() {
			return el, true
		}
	}
	return Element{}, false
}

// ClickLabel returns the readable label of el: aria-label, else its trimmed
// text cut to 80 characters, else its title, else "unknown".
func ClickLabel(el Element) string {
	if el.AriaLabel != "" {
		return el.AriaLabel
	}
	if text := strings.TrimSpace(el.Text); text != "" {
		if utf8.RuneCountInString(text) > maxLabelRunes {
			text = string([]rune(text)[:maxLabelRunes])
		}
		return text
	}
	if el.Title != "" {
		return el.Title
	}
	return "unknown"
}
