package booking

import (
	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

// InferSourceLanguage guesses the source language of a booking from
// the customer's free-text notes. Returns the canonical BCP 47 tag, or
// "" when detection is not reliable enough to act on.
func InferSourceLanguage(text string) string {
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	tag, err := language.Parse(info.Lang.Iso6391())
	if err != nil {
		return ""
	}
	return tag.String()
}
