package census

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// letterFolder spells out lowercase letters that NFKD leaves intact.
var letterFolder = strings.NewReplacer(
	"ß", "ss", "æ", "ae", "œ", "oe", "ø", "o",
	"đ", "d", "ð", "d", "ł", "l", "þ", "th", "ı", "i",
)

// Slugify turns a catalog label into a lowercase, hyphen-separated column
// name: "Estimate!!Total!!Male" becomes "estimate-total-male". Letters are
// folded to ASCII ("Straße" becomes "strasse") and apostrophes are dropped.
func Slugify(label string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, label)
	if err != nil {
		folded = label
	}

	var b strings.Builder
	b.Grow(len(folded))
	pendingSep := false
	for _, r := range letterFolder.Replace(strings.ToLower(folded)) {
		switch {
		case r == '\'' || r == '’':
			continue
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingSep = false
			b.WriteRune(r)
		default:
			pendingSep = true
		}
	}
	return b.String()
}
