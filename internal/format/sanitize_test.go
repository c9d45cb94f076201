// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package format

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize_Whitelist(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text", "hello", "hello"},
		{"kept bold", "<b>hi</b>", "<b>hi</b>"},
		{"kept all tags", "<b>a</b><i>b</i><u>c</u><code>d</code><pre>e</pre><blockquote>f</blockquote>",
			"<b>a</b><i>b</i><u>c</u><code>d</code><pre>e</pre><blockquote>f</blockquote>"},
		{"unsupported tag removed", "<script>x</script>ok", "xok"},
		{"div removed content kept", "<div class=\"a\">text</div>", "text"},
		{"attributes discarded", `<b style="color:red">x</b>`, "<b>x</b>"},
		{"uppercase lowered", "<B>x</B>", "<b>x</b>"},
		{"mixed case lowered", "<Code>x</CODE>", "<code>x</code>"},
		{"bare angle escaped", "3 < 10", "3 &lt; 10"},
		{"bare gt escaped", "a -> b", "a -&gt; b"},
		{"ampersand escaped", "tom & jerry", "tom &amp; jerry"},
		{"named entity kept", "5 &amp; 3 < 10", "5 &amp; 3 &lt; 10"},
		{"numeric entity kept", "&#1090;&#1077;", "&#1090;&#1077;"},
		{"hex entity kept", "&#x442;", "&#x442;"},
		{"fake entity escaped", "&notanentity no semicolon", "&amp;notanentity no semicolon"},
		{"unterminated tag escaped", "a <b text", "a &lt;b text"},
		{"markdown untouched", "**bold** `code`", "**bold** `code`"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Sanitize(tt.input))
		})
	}
}

func TestSanitize_Balanced(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"orphan close dropped", "oops</i> text", "oops text"},
		{"leading orphan close", "</b>text", "text"},
		{"unclosed open closed at end", "start <b>bold", "start <b>bold</b>"},
		{"interleave closes inner first", "<b><i>important</b> more", "<b><i>important</i></b> more"},
		{"close reaches outer open", "<blockquote>q<b>x</blockquote>", "<blockquote>q<b>x</b></blockquote>"},
		{"repeated same tag", "<b>a<b>b</b>c</b>", "<b>a<b>b</b>c</b>"},
		{"close only matches own name", "<b>a</i>b</b>", "<b>ab</b>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sanitize(tt.input)
			require.Equal(t, tt.want, got)

			opens, closes := tagCounts(got)
			require.Equal(t, opens, closes, "unbalanced output %q", got)
		})
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"plain",
		"<b>bold</b> and <script>bad</script>",
		"5 &amp; 3 < 10",
		"a < b > c & d",
		"<B CLASS=x>caps</B>",
		"<pre>EscapeText(&lt;b&gt;)</pre>",
		"text with &#x442; entity and & loose amp",
		"сколько будет 2 < 3 && 4 > 1",
	}

	for _, in := range inputs {
		once := Sanitize(in)
		require.Equal(t, once, Sanitize(once), "input %q", in)
	}
}

func TestSanitize_OutputOnlyWhitelistTags(t *testing.T) {
	out := Sanitize(`<a href="x">link</a> <b>keep</b> <span>drop</span> 1<2 &copy;`)

	// Every "<" in the output must begin a bare whitelist tag.
	rest := out
	for {
		i := strings.IndexByte(rest, '<')
		if i < 0 {
			break
		}
		loc := chunkTagRE.FindStringIndex(rest[i:])
		require.NotNil(t, loc, "stray < in %q", out)
		require.Equal(t, 0, loc[0], "stray < in %q", out)
		rest = rest[i+loc[1]:]
	}
	assert.Contains(t, out, "<b>keep</b>")
	assert.Contains(t, out, "link")
	assert.Contains(t, out, "1&lt;2")
	assert.Contains(t, out, "&copy;")
}

func TestEscapeText_EntityBoundary(t *testing.T) {
	assert.Equal(t, "&amp;", EscapeText("&"))
	assert.Equal(t, "&amp; ", EscapeText("& "))
	assert.Equal(t, "&gt;", EscapeText(">"))
	assert.Equal(t, "&quot;", EscapeText("&quot;"))
	assert.Equal(t, "&amp;#;", EscapeText("&#;"))
	assert.Equal(t, "&#xAb1;", EscapeText("&#xAb1;"))
}

func TestStripTags(t *testing.T) {
	assert.Equal(t, "bold italic", StripTags("<b>bold</b> <i>italic</i>"))
	assert.Equal(t, "no tags", StripTags("no tags"))
}
