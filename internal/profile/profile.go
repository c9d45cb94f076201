// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package profile tracks per-user writing style as incremental
// statistics and renders them into a system-prompt style directive.
//
// A profile is created on a user's first message, mutated on every
// subsequent one, and never deleted. All rate fields stay in [0,1] and
// the message count is monotonically non-decreasing.
package profile

import (
	"fmt"
	"strings"
	"time"
)

// emaAlpha is the smoothing factor for the exponential moving averages.
// One fifth weight on the newest message adapts within a handful of
// turns without thrashing on a single outlier.
const emaAlpha = 0.2

// Profile holds the per-user style statistics.
type Profile struct {
	UserID string

	// MessageCount is the number of observed user messages.
	MessageCount int64

	// AvgLength is the EMA of message length in runes.
	AvgLength float64

	// EmojiRate is the EMA of "message contains an emoji", in [0,1].
	EmojiRate float64

	// ProfanityRate is the EMA of "message contains profanity", in [0,1].
	ProfanityRate float64

	// Conciseness is derived from AvgLength on every update, in [0,1].
	// Higher means the user writes short messages and likely wants
	// short answers.
	Conciseness float64

	UpdatedAt time.Time
}

// New returns an empty profile for a user.
func New(userID string) Profile {
	return Profile{UserID: userID}
}

// Observe folds one user message into the profile statistics.
func (p *Profile) Observe(message string) {
	length := float64(len([]rune(message)))
	emoji := boolToRate(containsEmoji(message))
	profanity := boolToRate(containsProfanity(message))

	if p.MessageCount == 0 {
		p.AvgLength = length
		p.EmojiRate = emoji
		p.ProfanityRate = profanity
	} else {
		p.AvgLength = ema(p.AvgLength, length)
		p.EmojiRate = clamp01(ema(p.EmojiRate, emoji))
		p.ProfanityRate = clamp01(ema(p.ProfanityRate, profanity))
	}

	p.MessageCount++
	p.Conciseness = clamp01(1 - p.AvgLength/verboseLength)
	p.UpdatedAt = time.Now().UTC()
}

// verboseLength is the message length (runes) at which conciseness
// bottoms out at zero.
const verboseLength = 600

// StyleDirective renders the profile into a short system-prompt
// instruction adapting tone and verbosity to the user.
func (p Profile) StyleDirective() string {
	var parts []string

	switch {
	case p.MessageCount == 0:
		parts = append(parts, "Keep the answer clear and moderately brief.")
	case p.Conciseness >= 0.7:
		parts = append(parts, "The user writes tersely: answer in a few short sentences, no filler.")
	case p.Conciseness <= 0.3:
		parts = append(parts, "The user writes in detail: a thorough, structured answer is appropriate.")
	default:
		parts = append(parts, "Keep the answer clear and moderately brief.")
	}

	if p.EmojiRate >= 0.5 {
		parts = append(parts, "An occasional fitting emoji is welcome.")
	} else {
		parts = append(parts, "Do not use emoji.")
	}

	if p.ProfanityRate >= 0.5 {
		parts = append(parts, "A casual, informal register is fine.")
	}

	return strings.Join(parts, " ")
}

// String implements fmt.Stringer for log output.
func (p Profile) String() string {
	return fmt.Sprintf("profile(user=%s n=%d avg_len=%.0f emoji=%.2f profanity=%.2f concise=%.2f)",
		p.UserID, p.MessageCount, p.AvgLength, p.EmojiRate, p.ProfanityRate, p.Conciseness)
}

// =============================================================================
// SIGNAL DETECTION
// =============================================================================

// profanityWords is a deliberately small, mild list: the signal feeds a
// register hint, not moderation.
var profanityWords = []string{
	"damn", "shit", "fuck", "crap",
	"блин", "черт", "хрен", "бля", "хер",
}

func containsProfanity(message string) bool {
	m := strings.ToLower(message)
	for _, w := range profanityWords {
		if strings.Contains(m, w) {
			return true
		}
	}
	return false
}

func containsEmoji(message string) bool {
	for _, r := range message {
		if isEmoji(r) {
			return true
		}
	}
	return false
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF: // pictographs, emoticons, symbols
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	default:
		return false
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func ema(prev, sample float64) float64 {
	return prev*(1-emaAlpha) + sample*emaAlpha
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func boolToRate(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
