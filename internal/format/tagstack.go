// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package format

import (
	"regexp"
	"strings"
)

// =============================================================================
// TAG STACK
// =============================================================================

// TagStack tracks whitelist tags opened and not yet closed at a cursor
// position in the output stream. Stack order defines nesting; it is used
// to compute the closing overhead at a chunk boundary and the reopening
// sequence at the start of the next chunk.
type TagStack struct {
	tags []string
}

// NewTagStack returns an empty stack.
func NewTagStack() *TagStack {
	return &TagStack{}
}

// Open pushes an opened tag name.
func (s *TagStack) Open(name string) {
	s.tags = append(s.tags, name)
}

// Close handles a closing tag. If the name matches the top of the stack
// it is popped. On a mismatch the stack is popped down to and including
// the nearest matching entry, discarding anything in between; a close
// with no matching open is ignored. Sanitize applies the same repair to
// the text itself, so on sanitized input every close matches the top of
// the stack and this is plain bookkeeping.
func (s *TagStack) Close(name string) {
	for i := len(s.tags) - 1; i >= 0; i-- {
		if s.tags[i] == name {
			s.tags = s.tags[:i]
			return
		}
	}
}

// Depth returns the number of currently open tags.
func (s *TagStack) Depth() int {
	return len(s.tags)
}

// Clone returns an independent copy of the stack.
func (s *TagStack) Clone() *TagStack {
	c := &TagStack{tags: make([]string, len(s.tags))}
	copy(c.tags, s.tags)
	return c
}

// ClosingLen returns the byte cost of closing every open tag.
func (s *TagStack) ClosingLen() int {
	n := 0
	for _, name := range s.tags {
		n += len("</") + len(name) + len(">")
	}
	return n
}

// ClosingTags returns the closing sequence for every open tag,
// innermost first.
func (s *TagStack) ClosingTags() string {
	var b strings.Builder
	for i := len(s.tags) - 1; i >= 0; i-- {
		b.WriteString("</")
		b.WriteString(s.tags[i])
		b.WriteString(">")
	}
	return b.String()
}

// OpeningTags returns the reopening sequence for every open tag,
// outermost first, so that nesting order is preserved in the next chunk.
func (s *TagStack) OpeningTags() string {
	var b strings.Builder
	for _, name := range s.tags {
		b.WriteString("<")
		b.WriteString(name)
		b.WriteString(">")
	}
	return b.String()
}

// chunkTagRE matches the bare whitelist tags the sanitizer emits. The
// chunker only ever runs on sanitized text, so no other tag shape occurs.
var chunkTagRE = regexp.MustCompile(`</?(b|i|u|code|pre|blockquote)>`)

// Scan applies every tag open/close event in text to the stack, in order.
func (s *TagStack) Scan(text string) {
	for _, m := range chunkTagRE.FindAllStringSubmatch(text, -1) {
		if strings.HasPrefix(m[0], "</") {
			s.Close(m[1])
		} else {
			s.Open(m[1])
		}
	}
}
