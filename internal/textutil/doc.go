// Package textutil normalizes catalogue text before it is compared.
//
// Titles are NFKC-normalized, full-width ASCII is folded to its narrow form,
// half-width katakana is widened, control characters are dropped and runs of
// whitespace collapse to a single space. Two renderings of the same title
// therefore compare equal and never produce a spurious TITLE_UPDATE.
package textutil
