package util

import (
	"encoding/hex"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

func Normalize(s string) string {
	return norm.NFKD.String(s)
}

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

// LanguageTag converts an underscore locale such as "en_US" into a BCP 47 tag.
// Unparseable input is returned with underscores replaced.
func LanguageTag(locale string) string {
	s := strings.ReplaceAll(locale, "_", "-")
	tag, err := language.Parse(s)
	if err != nil {
		return s
	}
	return tag.String()
}
