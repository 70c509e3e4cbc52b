package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultLanguage is used when a translation for the requested language is missing.
const DefaultLanguage = "en"

// Text is a display string that is either plain or translated per locale.
// The zero value is the empty string.
type Text struct {
	plain        string
	translations map[string]string
}

// PlainText returns a Text holding a single untranslated string.
func PlainText(s string) Text {
	return Text{plain: s}
}

// Translated returns a Text holding per-language strings.
func Translated(m map[string]string) Text {
	return Text{translations: m}
}

// IsZero reports whether the text carries nothing.
func (t Text) IsZero() bool {
	return t.plain == "" && len(t.translations) == 0
}

// Resolve returns the string for lang, falling back to English and then to
// any available translation so a device never shows an empty name.
func (t Text) Resolve(lang string) string {
	if t.translations == nil {
		return t.plain
	}
	if s, ok := t.translations[lang]; ok {
		return s
	}
	if s, ok := t.translations[DefaultLanguage]; ok {
		return s
	}
	for _, s := range t.translations {
		return s
	}
	return ""
}

// String returns the English rendering.
func (t Text) String() string {
	return t.Resolve(DefaultLanguage)
}

// UnmarshalJSON accepts a JSON string, a locale object or null.
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = Text{}
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = PlainText(s)
		return nil
	case len(data) > 0 && data[0] == '{':
		var m map[string]string
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		*t = Translated(m)
		return nil
	default:
		return fmt.Errorf("protocol: text must be a string or a locale object, got %s", data)
	}
}

// MarshalJSON writes the same shape that was received.
func (t Text) MarshalJSON() ([]byte, error) {
	if t.translations != nil {
		return json.Marshal(t.translations)
	}
	return json.Marshal(t.plain)
}
