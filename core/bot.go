package core

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prokashpul/prompts/core/llm"
)

type BotConfig struct {
	Name           string  `toml:"name"`
	HistorySize    int     `toml:"history_size"`
	RatePerMinute  float64 `toml:"rate_per_minute"`
	RateBurst      int     `toml:"rate_burst"`
	MaxBatch       int     `toml:"max_batch"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// Generator is the part of *llm.Adapter the bot depends on.
type Generator interface {
	Generate(ctx context.Context, id llm.ProviderID, in llm.Input, creds llm.Credentials, count int) ([]string, error)
	GenerateBatch(ctx context.Context, id llm.ProviderID, items []llm.BatchItem, creds llm.Credentials, count int) []llm.BatchResult
	NativeKeyAvailable() bool
}

type Bot struct {
	LLM      Generator
	Config   *BotConfig
	Keys     *KeyStore
	History  *HistoryManager
	Limiter  *RateLimiter
	Commands *CommandRegistry
	Logger   zerolog.Logger

	// OperatorKeys are chat provider keys from the config file, used when a user has none.
	OperatorKeys llm.Credentials
}

func NewBot(gen Generator, cfg *BotConfig, keys *KeyStore, history *HistoryManager, limiter *RateLimiter, logger zerolog.Logger) *Bot {
	return &Bot{
		LLM:      gen,
		Config:   cfg,
		Keys:     keys,
		History:  history,
		Limiter:  limiter,
		Commands: NewCommandRegistry(),
		Logger:   logger,
	}
}

func (b *Bot) prefix() string {
	return "!" + strings.ToLower(b.Config.Name)
}

func (b *Bot) prefixPattern() *regexp.Regexp {
	return regexp.MustCompile(`(?i)^!` + regexp.QuoteMeta(b.Config.Name))
}

func (b *Bot) namePattern() *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(b.Config.Name))
}

// Addressed reports whether content is meant for the bot: it starts with the command
// prefix or mentions the bot's name anywhere. Platforms call it before fetching images.
func (b *Bot) Addressed(content string) bool {
	if b.Config.Name == "" {
		return false
	}
	return b.namePattern().MatchString(content)
}

func (b *Bot) HandleMessage(ctx context.Context, msg IncomingMessage, responder Responder) {
	defer func() {
		if r := recover(); r != nil {
			b.Logger.Error().Interface("panic", r).Str("platform", msg.Platform).Str("chat", msg.ChatID).Msg("recovered in HandleMessage")
		}
	}()

	if b.prefixPattern().MatchString(msg.Content) {
		parts := strings.Fields(msg.Content)
		if len(parts) >= 2 {
			cmdCtx := CommandContext{
				Ctx:       ctx,
				Msg:       msg,
				Responder: responder,
				Bot:       b,
				Args:      parts[2:],
			}
			if b.Commands.Execute(parts[1], cmdCtx) {
				return
			}
		}
	}

	if !b.Addressed(msg.Content) {
		return
	}

	images := msg.Images
	if len(images) == 0 && msg.ReplyTo != nil {
		images = msg.ReplyTo.Images
	}

	if len(images) > 0 {
		b.processImages(ctx, &msg, images, responder)
		return
	}

	idea := b.stripName(msg.Content)
	if idea == "" {
		_ = responder.SendText(msg.ChatID, fmt.Sprintf("Send me an idea or an image. Try `%s help`.", b.prefix()))
		return
	}
	b.processText(ctx, &msg, idea, responder)
}

func (b *Bot) stripName(content string) string {
	text := content
	if b.Config.Name == "" {
		return strings.TrimSpace(text)
	}
	if loc := b.prefixPattern().FindStringIndex(text); loc != nil {
		text = text[loc[1]:]
	}
	if loc := b.namePattern().FindStringIndex(text); loc != nil {
		text = text[:loc[0]] + text[loc[1]:]
	}
	return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(text), ":,"))
}

func (b *Bot) allow(msg *IncomingMessage, responder Responder) bool {
	if b.Limiter == nil || b.Limiter.Allow(msg.UserID) {
		return true
	}
	_ = responder.SendText(msg.ChatID, "⏳ Slow down a little, you are sending requests too fast.")
	return false
}

// respond answers as a reply to the triggering message when the platform gave it an id.
func (b *Bot) respond(msg *IncomingMessage, responder Responder, text string) {
	var err error
	if msg.MessageID != "" {
		err = responder.ReplyText(msg.ChatID, msg.MessageID, text)
	} else {
		err = responder.SendText(msg.ChatID, text)
	}
	if err != nil {
		b.Logger.Warn().Err(err).Str("chat", msg.ChatID).Msg("failed to send response")
	}
}

// react marks the triggering message with the state of its request.
func (b *Bot) react(msg *IncomingMessage, responder Responder, emoji string) {
	if msg.MessageID == "" {
		return
	}
	if err := responder.SendReaction(msg.ChatID, msg.MessageID, emoji); err != nil {
		b.Logger.Debug().Err(err).Str("chat", msg.ChatID).Msg("failed to react")
	}
}

func (b *Bot) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.Config.TimeoutSeconds > 0 {
		return context.WithTimeout(ctx, time.Duration(b.Config.TimeoutSeconds)*time.Second)
	}
	return context.WithCancel(ctx)
}

// credentials merges the operator's keys with the user's own, the user's winning.
func (b *Bot) credentials(userID string) llm.Credentials {
	creds := llm.Credentials{}
	for p, k := range b.OperatorKeys {
		creds[p] = k
	}
	for p, k := range b.Keys.Credentials(userID) {
		creds[p] = k
	}
	return creds
}

func (b *Bot) processText(ctx context.Context, msg *IncomingMessage, idea string, responder Responder) {
	if !b.allow(msg, responder) {
		return
	}

	settings := b.Keys.Settings(msg.UserID)
	ctx, cancel := b.requestContext(ctx)
	defer cancel()

	b.react(msg, responder, reactionWorking)
	prompts, err := b.LLM.Generate(ctx, settings.Provider, llm.TextInput(idea), b.credentials(msg.UserID), settings.Count)
	if err != nil {
		b.Logger.Warn().Err(err).Str("provider", string(settings.Provider)).Str("user", msg.UserID).Msg("text generation failed")
		b.react(msg, responder, reactionFailed)
		b.respond(msg, responder, b.errorMessage(err))
		return
	}

	b.History.Add(msg.ChatID, msg.UserID, HistoryEntry{
		Provider: settings.Provider,
		Mode:     llm.KindText,
		Source:   idea,
		Prompts:  prompts,
	})
	b.react(msg, responder, reactionDone)
	b.respond(msg, responder, formatPrompts(settings.Provider, prompts))
}

func (b *Bot) processImages(ctx context.Context, msg *IncomingMessage, images []llm.Image, responder Responder) {
	if !b.allow(msg, responder) {
		return
	}

	if limit := b.Config.MaxBatch; limit > 0 && len(images) > limit {
		_ = responder.SendText(msg.ChatID, fmt.Sprintf("Only the first %d images will be analyzed.", limit))
		images = images[:limit]
	}

	settings := b.Keys.Settings(msg.UserID)
	b.react(msg, responder, reactionWorking)
	if msg.MessageID == "" {
		_ = responder.SendText(msg.ChatID, fmt.Sprintf("👀 Analyzing %d image(s)...", len(images)))
	}

	items := make([]llm.BatchItem, len(images))
	for i, img := range images {
		name := img.Name
		if name == "" {
			name = fmt.Sprintf("image %d", i+1)
		}
		items[i] = llm.BatchItem{ID: name, Input: llm.Input{Image: &images[i]}}
	}

	ctx, cancel := b.requestContext(ctx)
	defer cancel()

	results := b.LLM.GenerateBatch(ctx, settings.Provider, items, b.credentials(msg.UserID), settings.Count)

	if len(results) == 1 {
		r := results[0]
		if r.Err != nil {
			b.Logger.Warn().Err(r.Err).Str("provider", string(settings.Provider)).Str("user", msg.UserID).Msg("image analysis failed")
			b.react(msg, responder, reactionFailed)
			b.respond(msg, responder, b.errorMessage(r.Err))
			return
		}
		b.History.Add(msg.ChatID, msg.UserID, HistoryEntry{Provider: settings.Provider, Mode: llm.KindImage, Source: r.ID, Prompts: r.Prompts})
		b.react(msg, responder, reactionDone)
		b.respond(msg, responder, formatPrompts(settings.Provider, r.Prompts))
		return
	}

	var out strings.Builder
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			b.Logger.Warn().Err(r.Err).Str("provider", string(settings.Provider)).Str("item", r.ID).Msg("batch item failed")
			fmt.Fprintf(&out, "❌ %s: %s\n", r.ID, b.errorMessage(r.Err))
			continue
		}
		b.History.Add(msg.ChatID, msg.UserID, HistoryEntry{Provider: settings.Provider, Mode: llm.KindImage, Source: r.ID, Prompts: r.Prompts})
		fmt.Fprintf(&out, "✅ %s\n", r.ID)
		for _, p := range r.Prompts {
			fmt.Fprintf(&out, "%s\n", p)
		}
	}
	fmt.Fprintf(&out, "\n%d of %d images analyzed with %s.", len(results)-failed, len(results), settings.Provider)
	b.react(msg, responder, batchReaction(failed, len(results)))
	b.respond(msg, responder, out.String())
}

const (
	reactionWorking = "⏳"
	reactionDone    = "✅"
	reactionPartial = "⚠️"
	reactionFailed  = "❌"
)

func batchReaction(failed, total int) string {
	switch failed {
	case 0:
		return reactionDone
	case total:
		return reactionFailed
	default:
		return reactionPartial
	}
}

// errorMessage turns an adapter error into something safe to show in chat.
func (b *Bot) errorMessage(err error) string {
	var missing *llm.MissingCredentialError
	var perr *llm.ProviderError
	switch {
	case errors.As(err, &missing):
		return fmt.Sprintf("🔑 %s. Add yours with `%s setkey %s <key>` or switch with `%s provider gemini`.",
			missing.Error(), b.prefix(), missing.Provider, b.prefix())
	case errors.Is(err, llm.ErrInvalidInput):
		return "Send either an idea or an image, not both."
	case errors.As(err, &perr):
		return "⚠️ " + perr.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "⌛ The provider took too long to answer."
	default:
		return "⚠️ " + err.Error()
	}
}

func formatPrompts(provider llm.ProviderID, prompts []string) string {
	if len(prompts) == 1 {
		return fmt.Sprintf("🎨 (%s)\n%s", provider, prompts[0])
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🎨 %d prompts (%s)\n", len(prompts), provider)
	for i, p := range prompts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, p)
	}
	return strings.TrimRight(b.String(), "\n")
}
