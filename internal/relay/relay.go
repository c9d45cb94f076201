// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package relay orchestrates one chat request end to end: classify the
// incoming message, adapt the prompt to the user's style profile, pick a
// backend, assemble the streamed answer, and hand back delivery-ready
// chunks.
//
// The pipeline per request:
//
//	normalize -> classify -> profile update -> prompt assembly ->
//	backend call(s) -> editor pass -> sanitize -> chunk
//
// All backend failures are converted to a fixed user-safe reply; raw
// errors never reach the delivery channel.
package relay

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jeranaias/chatrelay/internal/assemble"
	"github.com/jeranaias/chatrelay/internal/backend"
	"github.com/jeranaias/chatrelay/internal/classify"
	"github.com/jeranaias/chatrelay/internal/format"
	"github.com/jeranaias/chatrelay/internal/history"
	"github.com/jeranaias/chatrelay/internal/profile"
	"github.com/jeranaias/chatrelay/internal/textnorm"
)

// =============================================================================
// MODES
// =============================================================================

// Mode selects the orchestration strategy for a request.
type Mode string

const (
	// ModeGeneral goes straight to the primary backend.
	ModeGeneral Mode = "general"
	// ModeAugmented enriches the request with research: routed web
	// search when live information is needed, a best-effort background
	// pass otherwise.
	ModeAugmented Mode = "augmented"
)

// ParseMode maps a wire string to a Mode, defaulting to general.
func ParseMode(s string) Mode {
	if Mode(strings.ToLower(strings.TrimSpace(s))) == ModeAugmented {
		return ModeAugmented
	}
	return ModeGeneral
}

// =============================================================================
// FIXED REPLIES
// =============================================================================

// User-facing fixed strings. These are final output, so they stay inside
// the delivery markup subset.
const (
	// RefusalReply is returned for dosage requests without any backend call.
	RefusalReply = "Я не могу подсказать дозировку лекарства — это должен решать врач или фармацевт. Пожалуйста, обратитесь к специалисту."

	// ErrorReply replaces any backend failure.
	ErrorReply = "Извините, что-то пошло не так. Попробуйте ещё раз чуть позже."

	// BusyReply is returned when the per-user rate limit is exceeded.
	BusyReply = "Слишком много запросов подряд. Подождите немного и повторите."

	// EmptyReply is returned when the message has no text after normalization.
	EmptyReply = "Пришлите, пожалуйста, текстовое сообщение."
)

// =============================================================================
// PROMPT TEXT
// =============================================================================

const personaText = "Ты — дружелюбный персональный ассистент. Отвечай на языке пользователя, по существу и без выдуманных фактов. Для форматирования используй только теги <b>, <i>, <u>, <code>, <pre> и <blockquote>."

const disciplineGuidance = "Вопрос касается привычек и дисциплины: предложи конкретные небольшие шаги и спроси, как идёт прогресс."

const medicalGuidance = "Вопрос может касаться здоровья. Давай только общую справочную информацию, не называй дозировки и обязательно посоветуй обратиться к врачу."

const sourcesInstruction = "В конце ответа добавь раздел \"Sources\" со ссылками на использованные источники."

const researchBriefPrompt = "Собери краткую фактическую справку по вопросу пользователя: ключевые факты, цифры, даты. Без вступлений и выводов."

const editorPrompt = "Переформатируй текст ниже для мессенджера, используя только теги <b>, <i>, <u>, <code>, <pre> и <blockquote>. Не меняй формулировки и не сокращай содержание. Верни только результат."

// =============================================================================
// TUNABLES
// =============================================================================

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 2048

	researchTemperature = 0.3
	researchMaxTokens   = 512
	researchTimeout     = 25 * time.Second

	editorTemperature = 0.0
	editorTimeout     = 30 * time.Second

	webSearchMaxResults = 5
)

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Backend is the slice of backend.Client the orchestrator needs. The
// three roles share one shape.
type Backend interface {
	assemble.Streamer
	Complete(ctx context.Context, turns []history.Turn, opts backend.Options) (string, error)
	IsConfigured() bool
	Role() string
}

// Config wires an Orchestrator.
type Config struct {
	Primary  Backend
	Research Backend // optional
	Editor   Backend // optional

	Profiles  profile.Store
	Histories history.Store

	// HistoryWindow is the number of recent turns included in a prompt.
	HistoryWindow int
	// ContentCap truncates each prompt turn to this many runes.
	ContentCap int
	// ChunkLimit is the delivery channel's per-message byte limit.
	ChunkLimit int
	// PreviewLen bounds streaming preview snapshots in runes.
	PreviewLen int
	// EditorEnabled turns on the markup editor pass.
	EditorEnabled bool

	// Vocabulary overrides the classifier word lists. Zero value uses
	// the built-in lists.
	Vocabulary *classify.Vocabulary

	// Limiter throttles per-user requests. Nil disables throttling.
	Limiter *Limiter
}

// Orchestrator drives the response pipeline for one user request at a
// time. It holds no per-request state and is safe for concurrent use.
type Orchestrator struct {
	primary  Backend
	research Backend
	editor   Backend

	profiles  profile.Store
	histories history.Store

	historyWindow int
	contentCap    int
	chunkLimit    int
	editorEnabled bool

	vocab   classify.Vocabulary
	asm     *assemble.Assembler
	limiter *Limiter
}

// New builds an Orchestrator, filling zero tunables with defaults.
func New(cfg Config) *Orchestrator {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 20
	}
	if cfg.ContentCap <= 0 {
		cfg.ContentCap = 4000
	}
	if cfg.ChunkLimit <= 0 {
		cfg.ChunkLimit = format.DefaultChunkLimit
	}
	if cfg.PreviewLen <= 0 {
		cfg.PreviewLen = assemble.DefaultPreviewLen
	}
	vocab := classify.DefaultVocabulary()
	if cfg.Vocabulary != nil {
		vocab = *cfg.Vocabulary
	}
	if cfg.Profiles == nil {
		cfg.Profiles = profile.NewMemoryStore()
	}
	if cfg.Histories == nil {
		cfg.Histories = history.NewMemoryStore()
	}
	return &Orchestrator{
		primary:       cfg.Primary,
		research:      cfg.Research,
		editor:        cfg.Editor,
		profiles:      cfg.Profiles,
		histories:     cfg.Histories,
		historyWindow: cfg.HistoryWindow,
		contentCap:    cfg.ContentCap,
		chunkLimit:    cfg.ChunkLimit,
		editorEnabled: cfg.EditorEnabled,
		vocab:         vocab,
		asm:           assemble.New(cfg.PreviewLen),
		limiter:       cfg.Limiter,
	}
}

// Request is one incoming user message.
type Request struct {
	UserID string
	Mode   Mode
	Text   string

	// Preview, when non-nil, receives bounded snapshots of the answer
	// tail while it streams in.
	Preview assemble.PreviewFunc
}

// Respond runs the full pipeline and returns delivery-ready chunks, in
// order. It never returns an error: every failure maps to a fixed reply,
// and a panic anywhere in the pipeline is recovered the same way.
func (o *Orchestrator) Respond(ctx context.Context, req Request) (chunks []string) {
	logger := log.With().
		Str("request_id", uuid.NewString()).
		Str("user_id", req.UserID).
		Str("mode", string(req.Mode)).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("stage", "pipeline").Msg("recovered pipeline panic")
			chunks = []string{ErrorReply}
		}
	}()

	if o.limiter != nil && !o.limiter.Allow(req.UserID) {
		logger.Info().Msg("rate limited")
		return []string{BusyReply}
	}

	text := textnorm.Normalize(req.Text)
	if text == "" {
		return []string{EmptyReply}
	}

	labels := classify.ClassifyWith(text, o.vocab)
	prof := o.observe(ctx, logger, req.UserID, text)

	if labels.IsMedical && labels.WantsDosage {
		logger.Info().Str("stage", "safety").Msg("dosage request refused")
		o.record(ctx, logger, req.UserID, text, RefusalReply)
		return format.ChunkText(RefusalReply, o.chunkLimit)
	}

	answer, err := o.generate(ctx, logger, req, prof, labels, text)
	if err != nil {
		logger.Warn().Err(err).Str("stage", "generate").Msg("backend failure, returning fixed reply")
		return []string{ErrorReply}
	}

	sanitized := format.Sanitize(answer)
	o.record(ctx, logger, req.UserID, text, sanitized)
	return format.ChunkText(sanitized, o.chunkLimit)
}

// observe folds the message into the user's style profile. A store
// failure degrades to a fresh profile rather than aborting the request.
func (o *Orchestrator) observe(ctx context.Context, logger zerolog.Logger, userID, text string) profile.Profile {
	prof, err := o.profiles.Update(ctx, userID, func(p *profile.Profile) {
		p.Observe(text)
	})
	if err != nil {
		logger.Warn().Err(err).Str("stage", "profile").Msg("profile update failed")
		prof = profile.New(userID)
		prof.Observe(text)
	}
	return prof
}

// record appends the exchange to history. Failures are logged only; the
// reply has already been produced.
func (o *Orchestrator) record(ctx context.Context, logger zerolog.Logger, userID, question, answer string) {
	if err := o.histories.Append(ctx, userID, history.NewUserTurn(question)); err != nil {
		logger.Warn().Err(err).Str("stage", "history").Msg("failed to append user turn")
		return
	}
	if err := o.histories.Append(ctx, userID, history.NewAssistantTurn(answer)); err != nil {
		logger.Warn().Err(err).Str("stage", "history").Msg("failed to append assistant turn")
	}
}

// =============================================================================
// GENERATION
// =============================================================================

// generate assembles the prompt, picks a backend, and returns the raw
// answer text after the optional editor pass.
func (o *Orchestrator) generate(ctx context.Context, logger zerolog.Logger, req Request, prof profile.Profile, labels classify.Result, text string) (string, error) {
	system := o.systemTurn(req.Mode, prof, labels)
	routed := req.Mode == ModeAugmented && configured(o.research) && labels.NeedsLiveInformation

	prompt := []history.Turn{system}
	if routed {
		prompt = append(prompt, history.NewSystemTurn(sourcesInstruction))
	}
	prompt = append(prompt, o.recentTurns(ctx, logger, req.UserID)...)

	if routed {
		prompt = append(prompt, history.NewUserTurn(capRunes(text, o.contentCap)))
		opts := backend.Options{
			Temperature: defaultTemperature,
			MaxTokens:   defaultMaxTokens,
			WebSearch:   &backend.WebSearchOptions{MaxResults: webSearchMaxResults},
		}
		logger.Debug().Str("backend", o.research.Role()).Msg("routing to research backend")
		raw, err := o.asm.Run(ctx, o.research, prompt, opts, req.Preview)
		if err != nil {
			return "", err
		}
		return o.editorPass(ctx, logger, raw), nil
	}

	if req.Mode == ModeAugmented && configured(o.research) {
		if brief := o.researchBrief(ctx, logger, text); brief != "" {
			prompt = append(prompt, history.NewSystemTurn("Справка по теме:\n"+brief))
		}
	}
	prompt = append(prompt, history.NewUserTurn(capRunes(text, o.contentCap)))

	opts := backend.Options{Temperature: defaultTemperature, MaxTokens: defaultMaxTokens}
	logger.Debug().Str("backend", o.primary.Role()).Msg("routing to primary backend")
	raw, err := o.asm.Run(ctx, o.primary, prompt, opts, req.Preview)
	if err != nil {
		return "", err
	}
	return o.editorPass(ctx, logger, raw), nil
}

// systemTurn builds the persona turn: base persona, the style directive
// derived from the profile, then conditional guidance blocks.
func (o *Orchestrator) systemTurn(mode Mode, prof profile.Profile, labels classify.Result) history.Turn {
	var b strings.Builder
	b.WriteString(personaText)
	b.WriteString("\n\n")
	b.WriteString(prof.StyleDirective())
	if labels.IsDisciplineTopic && mode == ModeAugmented {
		b.WriteString("\n\n")
		b.WriteString(disciplineGuidance)
	}
	if labels.IsMedical {
		b.WriteString("\n\n")
		b.WriteString(medicalGuidance)
	}
	return history.NewSystemTurn(b.String())
}

// recentTurns loads the history window, drops system turns, and caps
// each turn's content. A store failure degrades to no history.
func (o *Orchestrator) recentTurns(ctx context.Context, logger zerolog.Logger, userID string) []history.Turn {
	recent, err := o.histories.Recent(ctx, userID, o.historyWindow)
	if err != nil {
		logger.Warn().Err(err).Str("stage", "history").Msg("failed to load history")
		return nil
	}
	turns := make([]history.Turn, 0, len(recent))
	for _, t := range recent {
		if t.Role != history.RoleUser && t.Role != history.RoleAssistant {
			continue
		}
		t.Content = capRunes(t.Content, o.contentCap)
		turns = append(turns, t)
	}
	return turns
}

// researchBrief runs the best-effort background pass on the research
// backend. Any failure is swallowed: the primary call proceeds without
// augmentation.
func (o *Orchestrator) researchBrief(ctx context.Context, logger zerolog.Logger, text string) string {
	rctx, cancel := context.WithTimeout(ctx, researchTimeout)
	defer cancel()

	turns := []history.Turn{
		history.NewSystemTurn(researchBriefPrompt),
		history.NewUserTurn(capRunes(text, o.contentCap)),
	}
	opts := backend.Options{Temperature: researchTemperature, MaxTokens: researchMaxTokens}
	brief, err := o.research.Complete(rctx, turns, opts)
	if err != nil {
		logger.Debug().Err(err).Str("backend", o.research.Role()).Str("stage", "research").Msg("research pass failed, continuing without it")
		return ""
	}
	return brief
}

// editorPass reshapes the raw answer into the delivery markup subset via
// the editor backend. On failure the raw text is escaped and used as-is.
func (o *Orchestrator) editorPass(ctx context.Context, logger zerolog.Logger, raw string) string {
	if !o.editorEnabled || !configured(o.editor) {
		return raw
	}

	ectx, cancel := context.WithTimeout(ctx, editorTimeout)
	defer cancel()

	turns := []history.Turn{
		history.NewSystemTurn(editorPrompt),
		history.NewUserTurn(raw),
	}
	opts := backend.Options{Temperature: editorTemperature, MaxTokens: defaultMaxTokens}
	edited, err := o.editor.Complete(ectx, turns, opts)
	if err != nil || strings.TrimSpace(edited) == "" {
		if err == nil {
			err = errors.New("editor returned empty text")
		}
		logger.Warn().Err(err).Str("backend", o.editor.Role()).Str("stage", "editor").Msg("editor pass failed, falling back to escaped text")
		return format.EscapeText(raw)
	}
	return edited
}

func configured(b Backend) bool {
	return b != nil && b.IsConfigured()
}

// capRunes truncates s to at most n runes.
func capRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
