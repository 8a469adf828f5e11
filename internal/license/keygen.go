package license

import (
	"fmt"
	"strings"
	"unicode"

	"courseplatform.app/api/models"
)

// MaxKeyAttempts bounds the collision suffixes tried for one owner.
const MaxKeyAttempts = 10

// KeyBase derives the human-enterable key for an owner:
// first initial, last initial, last four phone digits, four-digit birth year.
func KeyBase(user *models.User) string {
	var b strings.Builder
	b.WriteString(initial(user.FirstName))
	b.WriteString(initial(user.LastName))

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, user.Phone)
	if len(digits) < 4 {
		digits = strings.Repeat("0", 4-len(digits)) + digits
	}
	b.WriteString(digits[len(digits)-4:])

	year := user.BirthYear
	if year < 0 || year > 9999 {
		year = 0
	}
	fmt.Fprintf(&b, "%04d", year)

	return b.String()
}

// KeyCandidate returns the key to try on the given attempt; attempt 0 is the
// bare base, later attempts append a two-digit suffix.
func KeyCandidate(base string, attempt int) string {
	if attempt == 0 {
		return base
	}
	return fmt.Sprintf("%s%02d", base, attempt)
}

func initial(name string) string {
	for _, r := range strings.TrimSpace(name) {
		r = unicode.ToUpper(r)
		if r >= 'A' && r <= 'Z' {
			return string(r)
		}
		if unicode.IsLetter(r) {
			break
		}
	}
	return "X"
}
