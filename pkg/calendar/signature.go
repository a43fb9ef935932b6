package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"
)

// Hash is a 31-multiplier polynomial rolling hash over UTF-16 code units,
// folded to a signed 32-bit integer and rendered as base-36 of its absolute
// value. It is not cryptographic; it only needs to be stable.
func Hash(text string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(text)) {
		h = h*31 + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 36)
}

// Signature identifies "the same event" within one owner's calendar. Time of
// day and location are deliberately not part of it.
func Signature(title string, start time.Time, childKey string, category Category) string {
	base := fmt.Sprintf("%s-%s-%s-%s",
		signatureTitle(title),
		start.UTC().Format(time.DateOnly),
		strings.TrimSpace(childKey),
		category,
	)
	return "sig-" + Hash(strings.ToLower(base))
}

func signatureTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}
