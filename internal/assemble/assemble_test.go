// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assemble

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatrelay/internal/backend"
	"github.com/jeranaias/chatrelay/internal/history"
)

// fakeStreamer replays canned deltas, then an optional error.
type fakeStreamer struct {
	deltas []string
	err    error
}

func (f *fakeStreamer) Stream(_ context.Context, _ []history.Turn, _ backend.Options, cb backend.StreamCallback) error {
	for _, d := range f.deltas {
		cb(deltaChunk(d))
	}
	return f.err
}

// deltaChunk builds a StreamChunk carrying one content delta.
func deltaChunk(content string) backend.StreamChunk {
	payload, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"delta": map[string]string{"content": content}},
		},
	})
	var chunk backend.StreamChunk
	_ = json.Unmarshal(payload, &chunk)
	return chunk
}

func TestRun_Materializes(t *testing.T) {
	s := &fakeStreamer{deltas: []string{"Пер", "вый", " ответ"}}

	text, err := New(0).Run(context.Background(), s, nil, backend.Options{}, nil)
	require.NoError(t, err)
	require.Equal(t, "Первый ответ", text)
}

func TestRun_EmptyStreamIsFailure(t *testing.T) {
	_, err := New(0).Run(context.Background(), &fakeStreamer{}, nil, backend.Options{}, nil)
	require.ErrorIs(t, err, ErrEmptyStream)

	// Whitespace-only streams count as empty too.
	s := &fakeStreamer{deltas: []string{"  ", "\n"}}
	_, err = New(0).Run(context.Background(), s, nil, backend.Options{}, nil)
	require.ErrorIs(t, err, ErrEmptyStream)
}

func TestRun_StreamErrorDiscardsPartial(t *testing.T) {
	boom := errors.New("connection reset")
	s := &fakeStreamer{deltas: []string{"partial "}, err: boom}

	text, err := New(0).Run(context.Background(), s, nil, backend.Options{}, nil)
	require.ErrorIs(t, err, boom)
	require.Empty(t, text)
}

func TestRun_PreviewBoundedAndEscaped(t *testing.T) {
	s := &fakeStreamer{deltas: []string{"a <b ", strings.Repeat("разное ", 50)}}

	var previews []string
	_, err := New(20).Run(context.Background(), s, nil, backend.Options{},
		func(p string) { previews = append(previews, p) })
	require.NoError(t, err)
	require.Len(t, previews, 2)

	for _, p := range previews {
		assert.LessOrEqual(t, len([]rune(p)), 20+len("&lt;")*3,
			"preview must stay bounded after escaping")
		assert.NotContains(t, p, "<")
	}
}

func TestRun_PreviewPanicDoesNotAbort(t *testing.T) {
	s := &fakeStreamer{deltas: []string{"one", "two"}}

	calls := 0
	text, err := New(0).Run(context.Background(), s, nil, backend.Options{},
		func(string) {
			calls++
			panic("client display broke")
		})
	require.NoError(t, err)
	require.Equal(t, "onetwo", text)
	require.Equal(t, 2, calls)
}
