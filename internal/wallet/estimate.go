package wallet

import "unicode/utf8"

// EstimateTokens approximates the token cost of a text as one token per
// four runes, never less than one. Used only for the advisory pre-check;
// actual usage reported by the model drives the real debit.
func EstimateTokens(text string) int64 {
	n := int64(utf8.RuneCountInString(text)) / 4
	if n < 1 {
		n = 1
	}
	return n
}
