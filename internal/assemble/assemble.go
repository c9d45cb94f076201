// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package assemble materializes a backend's incremental delta feed into
// the full response text, optionally emitting bounded preview snapshots
// for "typing" style incremental display.
package assemble

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jeranaias/chatrelay/internal/backend"
	"github.com/jeranaias/chatrelay/internal/format"
	"github.com/jeranaias/chatrelay/internal/history"
	"github.com/jeranaias/chatrelay/internal/textnorm"
)

// ErrEmptyStream is returned when the stream terminates without any
// content. Callers treat it as a retryable backend failure, never as a
// valid empty answer.
var ErrEmptyStream = errors.New("stream produced no content")

// DefaultPreviewLen is the preview tail bound in runes.
const DefaultPreviewLen = 500

// Streamer is the streaming surface the assembler consumes; it is
// satisfied by *backend.Client.
type Streamer interface {
	Stream(ctx context.Context, turns []history.Turn, opts backend.Options, callback backend.StreamCallback) error
}

// PreviewFunc receives a normalized, escaped snapshot of the buffer
// tail after each delta.
type PreviewFunc func(preview string)

// Assembler accumulates stream deltas into a buffer.
type Assembler struct {
	previewLen int
}

// New creates an assembler. previewLen bounds the preview tail in
// runes; values <= 0 use DefaultPreviewLen.
func New(previewLen int) *Assembler {
	if previewLen <= 0 {
		previewLen = DefaultPreviewLen
	}
	return &Assembler{previewLen: previewLen}
}

// Run consumes the stream from s and returns the materialized response
// text. preview may be nil. A stream that completes without content is
// an ErrEmptyStream; a stream error discards any partial buffer, since
// chunking is only ever applied to a fully assembled answer.
func (a *Assembler) Run(ctx context.Context, s Streamer, turns []history.Turn, opts backend.Options, preview PreviewFunc) (string, error) {
	var buf strings.Builder

	err := s.Stream(ctx, turns, opts, func(chunk backend.StreamChunk) {
		content := chunk.GetContent()
		if content == "" {
			return
		}
		buf.WriteString(content)

		if preview != nil {
			a.emitPreview(buf.String(), preview)
		}
	})
	if err != nil {
		return "", err
	}

	text := buf.String()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyStream
	}
	return text, nil
}

// emitPreview renders and delivers one preview snapshot. The callback
// is caller-supplied and must never take the stream down with it.
func (a *Assembler) emitPreview(buffer string, preview PreviewFunc) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("preview callback panicked")
		}
	}()

	tail := buffer
	if runes := []rune(tail); len(runes) > a.previewLen {
		tail = string(runes[len(runes)-a.previewLen:])
	}
	preview(format.EscapeText(textnorm.Normalize(tail)))
}
