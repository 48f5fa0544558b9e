package ledger

import (
	"regexp"
	"strconv"
)

// The credit quantity is encoded in the free-text payment description as
// digits immediately preceding the word "Tokens" in parentheses, e.g.
// "Yum-Mi Tokens Purchase (20 Tokens)". This pattern is the contract with
// the checkout page that builds the description; a description that does
// not match it cannot credit.
var tokenPattern = regexp.MustCompile(`(?i)\((\d+)\s+Tokens?\)`)

// ExtractTokens pulls the credit quantity out of a payment description.
// The boolean is false when the description does not match the pattern or
// the quantity is not a positive integer.
func ExtractTokens(description string) (int, bool) {
	m := tokenPattern.FindStringSubmatch(description)
	if m == nil {
		return 0, false
	}
	tokens, err := strconv.Atoi(m[1])
	if err != nil || tokens <= 0 {
		return 0, false
	}
	return tokens, true
}
