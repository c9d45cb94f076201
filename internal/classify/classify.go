// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package classify labels incoming user messages for routing decisions.
//
// Labels are independent booleans computed by case-insensitive keyword
// matching against curated word lists. This is a best-effort heuristic:
// false positives and negatives are acceptable, but the result must be
// deterministic for the same input and vocabulary.
package classify

import "strings"

// Result holds the independent labels derived from one input string.
// Labels are not mutually exclusive.
type Result struct {
	// IsMedical indicates health, symptom, or medication content.
	IsMedical bool
	// WantsDosage indicates the user is asking how much of a drug to take.
	WantsDosage bool
	// IsDisciplineTopic indicates habit, routine, or motivation content.
	IsDisciplineTopic bool
	// NeedsLiveInformation indicates the answer depends on current data
	// (news, prices, weather, recent events).
	NeedsLiveInformation bool
}

// Vocabulary holds the word lists backing each label. Lists are data,
// not scattered literals, so they can be tested and tuned independently
// of the pipeline.
type Vocabulary struct {
	Medical         []string
	Dosage          []string
	Discipline      []string
	LiveInformation []string
}

// DefaultVocabulary returns the built-in word lists. The relay serves a
// mixed Russian/English audience, so both languages are covered. Russian
// entries are stems where inflection varies (substring match).
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Medical: []string{
			"symptom", "fever", "medicine", "medication", "drug", "pill",
			"tablet", "antibiotic", "ibuprofen", "paracetamol", "aspirin",
			"diagnos", "prescri", "doctor",
			"симптом", "болит", "боль в", "температур", "лекарств",
			"таблетк", "антибиотик", "ибупрофен", "парацетамол",
			"аспирин", "диагноз", "врач",
		},
		Dosage: []string{
			"dosage", "dose", "how many mg", "how much mg", "milligram",
			" mg ", " mg?", "per day",
			"дозировк", "доза", "сколько мг", "сколько миллиграмм",
			" мг ", " мг?", "мг ", "в день принимать",
		},
		Discipline: []string{
			"habit", "routine", "discipline", "motivation", "procrastinat",
			"productivity", "wake up early", "schedule",
			"привычк", "дисциплин", "мотивац", "распорядок",
			"прокрастинац", "режим дня", "продуктивн", "лень",
		},
		LiveInformation: []string{
			"today", "right now", "latest", "news", "current", "price of",
			"exchange rate", "weather", "this week", "this year",
			"сегодня", "сейчас", "последни", "новост", "курс",
			"погода", "цена", "на этой неделе", "актуальн",
		},
	}
}

var defaultVocab = DefaultVocabulary()

// Classify labels text using the default vocabulary.
func Classify(text string) Result {
	return ClassifyWith(text, defaultVocab)
}

// ClassifyWith labels text against the given vocabulary. Matching is
// case-insensitive substring search; each label is computed from its own
// list, independently of the others.
func ClassifyWith(text string, vocab Vocabulary) Result {
	t := strings.ToLower(text)

	return Result{
		IsMedical:            matchAny(t, vocab.Medical),
		WantsDosage:          matchAny(t, vocab.Dosage),
		IsDisciplineTopic:    matchAny(t, vocab.Discipline),
		NeedsLiveInformation: matchAny(t, vocab.LiveInformation),
	}
}

// matchAny reports whether any list entry occurs in the lowered text.
// Entries with leading/trailing spaces also match at string boundaries,
// so " mg " matches a message ending in "mg".
func matchAny(lowered string, words []string) bool {
	padded := " " + lowered + " "
	for _, w := range words {
		if strings.Contains(padded, w) {
			return true
		}
	}
	return false
}
