package utils

import (
	"strings"
	"unicode"
)

// ToSnakeCase converts a string from CamelCase to snake_case.
//
// Digits stay attached to the preceding word, so "UnpackInt4" becomes "unpack_int4".
func ToSnakeCase(s string) string {
	var res strings.Builder
	res.Grow(len(s) + 5)
	runes := []rune(s)
	for i, r := range runes {
		if !unicode.IsUpper(r) {
			res.WriteRune(r)
			continue
		}
		if i > 0 {
			prev := runes[i-1]
			var next rune
			if i < len(runes)-1 {
				next = runes[i+1]
			}
			if (!unicode.IsUpper(prev) && prev != '_') ||
				(unicode.IsUpper(prev) && next != 0 && unicode.IsLower(next)) {
				res.WriteRune('_')
			}
		}
		res.WriteRune(unicode.ToLower(r))
	}
	return res.String()
}
