// Package tokens provides token-count estimation for chunk sizing. Because
// the knowledge base supports multiple embedding backends with different
// tokenizers, it uses a conservative character-based heuristic:
// 1 token ≈ 4 characters (English prose). This deliberately under-estimates
// so chunks stay within embedding-model input limits across backends.
package tokens

// charsPerToken is the character-to-token ratio used for estimation.
// 4 chars/token is the standard approximation for English text.
const charsPerToken = 4

// Estimate returns a rough token count for s using the character heuristic.
// Non-empty strings always estimate to at least one token.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// Chars returns the character budget corresponding to n tokens, used to
// convert a token-denominated chunk size into a window length.
func Chars(n int) int {
	return n * charsPerToken
}
