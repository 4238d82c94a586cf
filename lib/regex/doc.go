// Package regex evaluates regular expressions against partially known keys.
//
// The bit-degrade tree reveals one key bit per branch, so at any point of a
// descent only a handful of bit positions are known. That partial knowledge
// is captured in a USR (universal string representation): a byte string in
// which every bit is 0, 1 or unknown.
//
// A compiled expression (R) gives three-valued judgments over a USR:
// Possible reports whether some key consistent with the USR could match, and
// Match decides an exactly known key. Possible is sound — it never returns
// false for a USR that a stored matching key is consistent with — which is
// what lets the regex iterator prune whole subtrees safely.
//
// Expressions use Go's RE2 syntax (parsed with regexp/syntax) and are
// matched against the whole key, byte-wise. Keys are treated as Latin-1
// bytes; patterns over multi-byte runes will simply never match.
package regex
