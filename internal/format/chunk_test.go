// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package format

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tagCounts returns open and close counts per tag name for one chunk.
func tagCounts(chunk string) (opens, closes map[string]int) {
	opens = map[string]int{}
	closes = map[string]int{}
	for _, m := range chunkTagRE.FindAllStringSubmatch(chunk, -1) {
		if strings.HasPrefix(m[0], "</") {
			closes[m[1]]++
		} else {
			opens[m[1]]++
		}
	}
	return opens, closes
}

// requireChunkInvariants checks the per-chunk guarantees: size bound,
// no boundary inside a tag, and balanced open/close counts.
func requireChunkInvariants(t *testing.T, chunks []string, limit int) {
	t.Helper()
	for i, c := range chunks {
		require.NotEmpty(t, c, "chunk %d empty", i)
		require.LessOrEqual(t, len(c), limit, "chunk %d exceeds limit", i)
		require.False(t, insideTag(c), "chunk %d ends mid-tag", i)
		require.False(t, strings.HasPrefix(c, ">"), "chunk %d starts mid-tag", i)

		opens, closes := tagCounts(c)
		require.Equal(t, opens, closes, "chunk %d unbalanced: %q", i, c)
	}
}

func TestChunkText_ShortInputSingleChunk(t *testing.T) {
	text := "<b>short</b> answer"
	chunks := ChunkText(text, 3500)
	require.Equal(t, []string{text}, chunks)
}

func TestChunkText_EmptyInput(t *testing.T) {
	require.Empty(t, ChunkText("", 3500))
}

func TestChunkText_PlainParagraphs10k(t *testing.T) {
	// 10,000+ characters of plain paragraphs at limit 3500 should yield
	// roughly ceil(10000/3500) chunks and reconstruct exactly.
	var paras []string
	for i := 0; len(strings.Join(paras, paragraphSep)) < 10000; i++ {
		paras = append(paras, fmt.Sprintf("paragraph %d: %s", i, strings.Repeat("lorem ipsum ", 20)))
	}
	text := strings.Join(paras, paragraphSep)
	limit := 3500

	chunks := ChunkText(text, limit)
	requireChunkInvariants(t, chunks, limit)

	assert.GreaterOrEqual(t, len(chunks), len(text)/limit)
	assert.LessOrEqual(t, len(chunks), len(text)/limit+2)

	// No markup, so joining on the paragraph separator reconstructs the
	// original exactly.
	require.Equal(t, text, strings.Join(chunks, paragraphSep))
}

func TestChunkText_BoldRunAcrossBoundary(t *testing.T) {
	text := Sanitize("<b>Important</b> note: " + strings.Repeat("x", 4000))
	limit := 3500

	chunks := ChunkText(text, limit)
	requireChunkInvariants(t, chunks, limit)
	require.GreaterOrEqual(t, len(chunks), 2)

	// The visible text survives a forced cut intact.
	var visible strings.Builder
	for _, c := range chunks {
		visible.WriteString(StripTags(c))
	}
	require.Equal(t, StripTags(text), visible.String())
}

func TestChunkText_OpenTagClosedAndReopened(t *testing.T) {
	// A bold run longer than the limit must be closed at the boundary
	// and reopened in the following chunk.
	text := "<b>" + strings.Repeat("bold words here ", 300) + "</b>"
	limit := 1000

	chunks := ChunkText(text, limit)
	requireChunkInvariants(t, chunks, limit)
	require.GreaterOrEqual(t, len(chunks), 2)

	for i, c := range chunks {
		if i > 0 {
			require.True(t, strings.HasPrefix(c, "<b>"), "chunk %d should reopen <b>", i)
		}
		require.True(t, strings.HasSuffix(c, "</b>"), "chunk %d should close <b>", i)
	}
}

func TestChunkText_NestedTagsAcrossBoundary(t *testing.T) {
	text := "<blockquote><b>" + strings.Repeat("quoted emphasis ", 300) + "</b></blockquote>"
	limit := 900

	chunks := ChunkText(text, limit)
	requireChunkInvariants(t, chunks, limit)
	require.GreaterOrEqual(t, len(chunks), 2)

	// Reopening preserves nesting order: blockquote before b.
	for i := 1; i < len(chunks); i++ {
		require.True(t, strings.HasPrefix(chunks[i], "<blockquote><b>"),
			"chunk %d lost nesting order: %q", i, chunks[i][:40])
	}
}

func TestChunkText_ParagraphBoundariesPreferred(t *testing.T) {
	para := strings.Repeat("a", 1200)
	text := para + paragraphSep + para + paragraphSep + para
	limit := 1300

	chunks := ChunkText(text, limit)
	requireChunkInvariants(t, chunks, limit)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		require.Equal(t, para, c)
	}
}

func TestChunkText_MixedMarkupParagraphs(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "<b>heading %d</b>\nbody %s", i, strings.Repeat("text ", 30))
		if i < 39 {
			b.WriteString(paragraphSep)
		}
	}
	text := Sanitize(b.String())
	limit := 700

	chunks := ChunkText(text, limit)
	requireChunkInvariants(t, chunks, limit)

	// Visible content is preserved across the whole sequence.
	var visible []string
	for _, c := range chunks {
		visible = append(visible, StripTags(c))
	}
	require.Equal(t, StripTags(text), strings.Join(visible, paragraphSep))
}

func TestChunkText_UnclosedOpenRepaired(t *testing.T) {
	// An open with no close in the input is synthetically closed at
	// every boundary and at the end, so each chunk still balances.
	text := "start <b>bold " + strings.Repeat("y", 500)
	limit := 200

	chunks := ChunkText(text, limit)
	requireChunkInvariants(t, chunks, limit)
}

func TestChunkText_OrphanCloseDropped(t *testing.T) {
	// A close without an open is removed by the sanitizer, so no chunk
	// ever carries a dangling closing tag.
	text := Sanitize("oops</i> start " + strings.Repeat("y", 500))
	limit := 200

	require.NotContains(t, text, "</i>")
	chunks := ChunkText(text, limit)
	requireChunkInvariants(t, chunks, limit)
}

func TestChunkText_InterleavedTagsRebalanced(t *testing.T) {
	// A close that skips over an inner open gets the inner tag closed
	// with it, so every chunk of the sanitized text still balances.
	text := Sanitize("<b><i>important</b> " + strings.Repeat("деталь ", 200))
	limit := 300

	chunks := ChunkText(text, limit)
	requireChunkInvariants(t, chunks, limit)
	require.True(t, strings.HasPrefix(chunks[0], "<b><i>important</i></b> "),
		"chunk 0 lost the rebalanced run: %q", chunks[0][:40])
}

func TestChunkText_CutNeverSplitsRune(t *testing.T) {
	text := strings.Repeat("привет мир ", 500)
	limit := 333

	chunks := ChunkText(text, limit)
	requireChunkInvariants(t, chunks, limit)
	for i, c := range chunks {
		require.True(t, strings.ToValidUTF8(c, "") == c, "chunk %d has a split rune", i)
	}
	require.Equal(t, text, strings.Join(chunks, ""))
}

func TestChunkText_TinyLimitKeepsRunesWhole(t *testing.T) {
	// A limit smaller than one rune still never splits a UTF-8
	// sequence; the forced cut takes the whole rune instead.
	text := strings.Repeat("ж", 6)

	chunks := ChunkText(text, 1)
	for i, c := range chunks {
		require.True(t, utf8.ValidString(c), "chunk %d has a split rune", i)
	}
	require.Equal(t, text, strings.Join(chunks, ""))
}

func TestHardTruncate(t *testing.T) {
	assert.Equal(t, "abc", HardTruncate("abc", 10))
	assert.Equal(t, "ab", HardTruncate("abcd", 2))
	// Never cuts inside a multi-byte rune.
	s := "дом"
	assert.Equal(t, "д", HardTruncate(s, 3))
	assert.Equal(t, "", HardTruncate(s, 1))
}
