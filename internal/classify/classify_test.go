// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_MedicalDosage(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Result
	}{
		{
			name:  "russian dosage question",
			input: "сколько мг ибупрофена мне принять",
			want:  Result{IsMedical: true, WantsDosage: true},
		},
		{
			name:  "english dosage question",
			input: "What dosage of paracetamol is safe?",
			want:  Result{IsMedical: true, WantsDosage: true},
		},
		{
			name:  "medical without dosage",
			input: "у меня температура и болит горло",
			want:  Result{IsMedical: true},
		},
		{
			name:  "dosage unit at end of message",
			input: "можно ли выпить 400 мг",
			want:  Result{WantsDosage: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Classify(tt.input))
		})
	}
}

func TestClassify_Discipline(t *testing.T) {
	r := Classify("как выработать привычку вставать рано")
	assert.True(t, r.IsDisciplineTopic)
	assert.False(t, r.IsMedical)

	r = Classify("I keep procrastinating on my routine")
	assert.True(t, r.IsDisciplineTopic)
}

func TestClassify_LiveInformation(t *testing.T) {
	r := Classify("какой сегодня курс доллара")
	assert.True(t, r.NeedsLiveInformation)

	r = Classify("what is the latest news about the election")
	assert.True(t, r.NeedsLiveInformation)

	r = Classify("explain how binary search works")
	assert.False(t, r.NeedsLiveInformation)
}

func TestClassify_LabelsIndependent(t *testing.T) {
	r := Classify("новости про новый антибиотик сегодня")
	assert.True(t, r.IsMedical)
	assert.True(t, r.NeedsLiveInformation)
	assert.False(t, r.WantsDosage)
}

func TestClassify_Deterministic(t *testing.T) {
	input := "сколько мг ибупрофена принять при боли в голове сегодня"
	first := Classify(input)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, Classify(input))
	}
}

func TestClassifyWith_CustomVocabulary(t *testing.T) {
	vocab := Vocabulary{Medical: []string{"green potion"}}
	r := ClassifyWith("where to buy a GREEN POTION", vocab)
	assert.True(t, r.IsMedical)
	assert.False(t, r.WantsDosage)
}
