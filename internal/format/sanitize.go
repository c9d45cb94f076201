// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package format restricts model output to the markup subset the
// delivery channel renders safely, and splits it into transport-sized
// chunks without ever breaking or unbalancing a tag.
//
// The pipeline is Sanitize followed by ChunkText. Sanitize reduces
// arbitrary text to the whitelist tags in bare form with everything else
// escaped; ChunkText cuts sanitized text into limit-bounded, self-
// contained chunks, closing open tags at each boundary and reopening
// them in the next chunk.
package format

import (
	"regexp"
	"strings"
)

// =============================================================================
// WHITELIST
// =============================================================================

// Whitelist is the set of tag names the delivery channel renders.
// Everything else is stripped by Sanitize.
var Whitelist = map[string]bool{
	"b":          true,
	"i":          true,
	"u":          true,
	"code":       true,
	"pre":        true,
	"blockquote": true,
}

// tagRE matches anything tag-shaped: optional slash, a name, optional
// attribute junk up to the closing bracket. A bare "<" with no matching
// ">" is not a tag and falls through to escaping.
var tagRE = regexp.MustCompile(`<(/?)([a-zA-Z][a-zA-Z0-9]*)([^<>]*)>`)

// entityRE matches a recognized character reference at the start of the
// input: named, decimal numeric, or hex numeric.
var entityRE = regexp.MustCompile(`^&(#[0-9]+|#[xX][0-9a-fA-F]+|[a-zA-Z][a-zA-Z0-9]*);`)

// =============================================================================
// SANITIZE
// =============================================================================

// Sanitize rewrites text so that the only markup left is whitelist tags
// in bare lower-case form. Non-whitelist tags are removed wholesale,
// attributes are discarded, and all remaining angle brackets and
// ampersands are escaped. Existing character references pass through
// untouched, so sanitizing already-safe text is a no-op: Sanitize is
// idempotent.
//
// The output is also tag-balanced. Model output interleaves and orphans
// tags; a close with no matching open is dropped, a close that skips
// over opens closes them too, and tags still open at the end are closed
// there. The chunker relies on balanced input to keep every chunk
// balanced on its own.
func Sanitize(text string) string {
	if text == "" {
		return ""
	}

	var out strings.Builder
	out.Grow(len(text))

	var open []string
	last := 0
	for _, m := range tagRE.FindAllStringSubmatchIndex(text, -1) {
		out.WriteString(EscapeText(text[last:m[0]]))
		last = m[1]

		closing := m[3] > m[2]
		name := strings.ToLower(text[m[4]:m[5]])
		if !Whitelist[name] {
			continue
		}
		if !closing {
			open = append(open, name)
			out.WriteString("<")
			out.WriteString(name)
			out.WriteString(">")
			continue
		}

		// A close pairs with the nearest open of its name. Opens made
		// after that point are closed here as well, keeping nesting
		// well-formed; a close with no open at all is dropped.
		match := -1
		for i := len(open) - 1; i >= 0; i-- {
			if open[i] == name {
				match = i
				break
			}
		}
		if match < 0 {
			continue
		}
		for i := len(open) - 1; i >= match; i-- {
			out.WriteString("</")
			out.WriteString(open[i])
			out.WriteString(">")
		}
		open = open[:match]
	}
	out.WriteString(EscapeText(text[last:]))

	for i := len(open) - 1; i >= 0; i-- {
		out.WriteString("</")
		out.WriteString(open[i])
		out.WriteString(">")
	}
	return out.String()
}

// EscapeText escapes markup-significant characters in a non-tag segment.
// "<" and ">" are escaped unconditionally; "&" only when it does not
// already start a recognized character reference, which keeps valid
// entities from being double-escaped.
func EscapeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			if entityRE.MatchString(text[i:]) {
				b.WriteByte('&')
			} else {
				b.WriteString("&amp;")
			}
		default:
			b.WriteByte(text[i])
		}
	}
	return b.String()
}

// StripTags removes the bare whitelist tags from sanitized text,
// returning the visible content. Used for fidelity checks and previews.
func StripTags(text string) string {
	return chunkTagRE.ReplaceAllString(text, "")
}
