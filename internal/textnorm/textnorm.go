// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package textnorm normalizes free-form user text before classification
// and prompt assembly.
//
// Normalization is a total function: any input yields a result, there
// are no error conditions.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// invisibleMarks are zero-width and directional characters that LLM
// output and copy-pasted user text frequently carry. They render as
// nothing but break keyword matching and length accounting.
var invisibleMarks = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x00AD, Hi: 0x00AD, Stride: 1}, // soft hyphen
		{Lo: 0x200B, Hi: 0x200F, Stride: 1}, // zero-width space/joiners, LRM, RLM
		{Lo: 0x2060, Hi: 0x2060, Stride: 1}, // word joiner
		{Lo: 0xFEFF, Hi: 0xFEFF, Stride: 1}, // BOM
	},
}

var (
	horizontalRuns = regexp.MustCompile(`[ \t\x{00A0}]+`)
	blankLineRuns  = regexp.MustCompile(`\n{3,}`)
)

// stripInvisible removes the invisible marks via a rune transformer.
var stripInvisible = runes.Remove(runes.In(invisibleMarks))

// Normalize returns text with carriage returns and invisible marks
// removed, runs of horizontal whitespace collapsed to a single space,
// runs of three or more newlines collapsed to exactly two, and
// leading/trailing whitespace trimmed.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	text = strings.ReplaceAll(text, "\r", "")

	cleaned, _, err := transform.String(stripInvisible, text)
	if err == nil {
		text = cleaned
	}

	text = horizontalRuns.ReplaceAllString(text, " ")
	text = blankLineRuns.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}
