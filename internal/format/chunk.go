// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package format

import (
	"strings"
	"unicode/utf8"
)

// =============================================================================
// CHUNKING CONSTANTS
// =============================================================================

// DefaultChunkLimit is the fallback per-message size limit in bytes.
// The real limit is a delivery-channel property and arrives via config.
const DefaultChunkLimit = 4096

// paragraphSep separates paragraph units inside one chunk. A chunk
// boundary itself stands in for the separator between two chunks.
const paragraphSep = "\n\n"

// =============================================================================
// CHUNKER
// =============================================================================

// ChunkText splits sanitized text into ordered chunks of at most limit
// bytes. No chunk starts or ends mid-tag, and every chunk is balanced on
// its own: tags still open at a boundary are closed at the end of the
// chunk and reopened at the start of the next one, so visual formatting
// continues across the split. Input is processed greedily in paragraph
// units; a paragraph that cannot fit in any chunk alone is cut at the
// largest admissible point instead.
//
// Every non-empty input yields at least one non-empty chunk. If the
// algorithm somehow produces nothing, a single hard-truncated chunk of
// the input is returned rather than failing: this sits on the response
// critical path.
func ChunkText(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultChunkLimit
	}
	if text == "" {
		return nil
	}
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	stack := NewTagStack()
	var cur strings.Builder
	reopened := "" // opening prefix cur started with, for empty-chunk detection

	flush := func() {
		body := cur.String()
		if body != "" && body != reopened {
			chunks = append(chunks, body+stack.ClosingTags())
		}
		cur.Reset()
		reopened = stack.OpeningTags()
		cur.WriteString(reopened)
	}

	for _, para := range strings.Split(text, paragraphSep) {
		sep := ""
		if cur.Len() > 0 && cur.String() != reopened {
			sep = paragraphSep
		}

		// Greedy accept: the paragraph joins the current chunk as long
		// as the chunk plus the cost of closing everything still open
		// after it stays within the limit.
		trial := stack.Clone()
		trial.Scan(para)
		if cur.Len()+len(sep)+len(para)+trial.ClosingLen() <= limit {
			cur.WriteString(sep)
			cur.WriteString(para)
			stack = trial
			continue
		}

		flush()

		// Retry in the fresh chunk (which may carry a reopening prefix).
		trial = stack.Clone()
		trial.Scan(para)
		if cur.Len()+len(para)+trial.ClosingLen() <= limit {
			cur.WriteString(para)
			stack = trial
			continue
		}

		// Oversized paragraph: emit forced cuts until the tail fits.
		rem := para
		for {
			trial = stack.Clone()
			trial.Scan(rem)
			if cur.Len()+len(rem)+trial.ClosingLen() <= limit {
				cur.WriteString(rem)
				stack = trial
				break
			}

			cutLen := cutPoint(rem, limit-cur.Len(), stack)
			piece := rem[:cutLen]
			pieceStack := stack.Clone()
			pieceStack.Scan(piece)

			chunks = append(chunks, cur.String()+piece+pieceStack.ClosingTags())
			stack = pieceStack
			cur.Reset()
			reopened = stack.OpeningTags()
			cur.WriteString(reopened)
			rem = rem[cutLen:]
		}
	}

	if body := cur.String(); body != "" && body != reopened {
		chunks = append(chunks, body+stack.ClosingTags())
	}

	// Unreachable given the loop above, but never return nothing for a
	// non-empty input on the response path.
	if len(chunks) == 0 {
		return []string{HardTruncate(text, limit)}
	}
	return chunks
}

// cutPoint finds the largest admissible cut length for a forced cut,
// given the remaining budget of the chunk under construction and the
// tag state at its write cursor. A cut is admissible when it lands on a
// rune boundary, does not fall inside a tag's angle brackets, and the
// resulting slice plus its closing overhead fits the budget. The
// candidate length is decremented until every condition holds; the
// first rune is the safety floor and is always accepted whole, so a cut
// never lands inside a UTF-8 sequence even when the budget is smaller
// than the rune.
func cutPoint(text string, budget int, stack *TagStack) int {
	_, floor := utf8.DecodeRuneInString(text)
	if floor < 1 {
		floor = 1
	}

	n := budget
	if n > len(text) {
		n = len(text)
	}
	if n < floor {
		return floor
	}

	for n > floor {
		if n < len(text) && !utf8.RuneStart(text[n]) {
			n--
			continue
		}
		piece := text[:n]
		if insideTag(piece) {
			n--
			continue
		}
		trial := stack.Clone()
		trial.Scan(piece)
		if n+trial.ClosingLen() > budget {
			n--
			continue
		}
		return n
	}
	return floor
}

// insideTag reports whether the end of piece falls between a "<" and
// its matching ">".
func insideTag(piece string) bool {
	open := strings.LastIndexByte(piece, '<')
	if open < 0 {
		return false
	}
	return strings.LastIndexByte(piece, '>') < open
}

// HardTruncate returns at most limit bytes of text, cut on a rune
// boundary. It is the fail-safe for internal inconsistencies: a
// truncated reply beats no reply on the user-response path.
func HardTruncate(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	n := limit
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return text[:n]
}
