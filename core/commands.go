package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/prokashpul/prompts/core/llm"
)

type CommandContext struct {
	Ctx       context.Context
	Msg       IncomingMessage
	Responder Responder
	Bot       *Bot
	Args      []string
}

func (c CommandContext) reply(text string) error {
	return c.Responder.SendText(c.Msg.ChatID, text)
}

type CommandHandler func(ctx CommandContext) error

type CommandRegistry struct {
	commands map[string]CommandHandler
}

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[string]CommandHandler),
	}
}

func (r *CommandRegistry) Register(name string, handler CommandHandler) {
	r.commands[strings.ToLower(name)] = handler
}

func (r *CommandRegistry) Execute(name string, ctx CommandContext) bool {
	if handler, exists := r.commands[strings.ToLower(name)]; exists {
		if err := handler(ctx); err != nil {
			_ = ctx.Responder.SendText(ctx.Msg.ChatID, fmt.Sprintf("⚠️ Error executing command: %v", err))
		}
		return true
	}
	return false
}

func parseChatProvider(s string) (llm.ProviderID, error) {
	id, err := llm.ParseProvider(s)
	if err != nil {
		return "", err
	}
	if id.Native() {
		return "", ErrNativeKey
	}
	return id, nil
}

func RegisterDefaultCommands(b *Bot) {
	p := b.prefix()

	b.Commands.Register("help", func(ctx CommandContext) error {
		helpText := fmt.Sprintf("Mention me with an idea or an image and I'll write image-generation prompts.\n"+
			"`%[1]s idea <text>` generate from an idea\n"+
			"`%[1]s provider [gemini|groq|mistral]` show or pick the provider\n"+
			"`%[1]s count [1-5]` show or set how many variations to ask for\n"+
			"`%[1]s setkey <groq|mistral> <key>` store your key, `%[1]s delkey <provider>` removes it\n"+
			"`%[1]s history`, `%[1]s clear`, `%[1]s status`", p)
		return ctx.reply(helpText)
	})

	b.Commands.Register("idea", func(ctx CommandContext) error {
		if len(ctx.Args) < 1 {
			return ctx.reply(fmt.Sprintf("Usage: `%s idea <text>`", p))
		}
		msg := ctx.Msg
		ctx.Bot.processText(ctx.Ctx, &msg, strings.Join(ctx.Args, " "), ctx.Responder)
		return nil
	})

	b.Commands.Register("provider", func(ctx CommandContext) error {
		uid := ctx.Msg.UserID
		if len(ctx.Args) < 1 {
			current := ctx.Bot.Keys.Settings(uid).Provider
			var lines []string
			for _, id := range llm.Providers {
				mark := "  "
				if id == current {
					mark = "▶ "
				}
				lines = append(lines, mark+string(id))
			}
			return ctx.reply("Providers:\n" + strings.Join(lines, "\n"))
		}

		id, err := llm.ParseProvider(ctx.Args[0])
		if err != nil {
			return ctx.reply("Unknown provider. Available: `gemini`, `groq`, `mistral`")
		}
		ctx.Bot.Keys.SetProvider(uid, id)

		resp := fmt.Sprintf("✅ Provider set to `%s`.", id)
		if !id.Native() && ctx.Bot.credentials(uid)[id] == "" {
			resp += fmt.Sprintf(" You still need a key: `%s setkey %s <key>`", p, id)
		}
		if id.Native() && !ctx.Bot.LLM.NativeKeyAvailable() {
			resp += " ⚠️ No Gemini key is configured on this bot right now."
		}
		return ctx.reply(resp)
	})

	b.Commands.Register("count", func(ctx CommandContext) error {
		uid := ctx.Msg.UserID
		if len(ctx.Args) < 1 {
			return ctx.reply(fmt.Sprintf("Variations per idea: %d", ctx.Bot.Keys.Settings(uid).Count))
		}
		n, err := strconv.Atoi(ctx.Args[0])
		if err != nil {
			return ctx.reply(fmt.Sprintf("Usage: `%s count <%d-%d>`", p, MinCount, MaxCount))
		}
		return ctx.reply(fmt.Sprintf("✅ Variations per idea set to %d.", ctx.Bot.Keys.SetCount(uid, n)))
	})

	b.Commands.Register("setkey", func(ctx CommandContext) error {
		if len(ctx.Args) != 2 {
			return ctx.reply(fmt.Sprintf("Usage: `%s setkey <groq|mistral> <your_api_key>`", p))
		}
		id, err := parseChatProvider(ctx.Args[0])
		if err != nil {
			return ctx.reply("Keys can be stored for `groq` and `mistral` only.")
		}
		if err := ctx.Bot.Keys.SetKey(ctx.Msg.UserID, id, ctx.Args[1]); err != nil {
			return ctx.reply("Failed to securely save API key: " + err.Error())
		}
		return ctx.reply(fmt.Sprintf("✅ Your %s API key has been set securely. Consider deleting your message.", id))
	})

	b.Commands.Register("delkey", func(ctx CommandContext) error {
		if len(ctx.Args) != 1 {
			return ctx.reply(fmt.Sprintf("Usage: `%s delkey <groq|mistral>`", p))
		}
		id, err := parseChatProvider(ctx.Args[0])
		if err != nil {
			return ctx.reply("Keys can be stored for `groq` and `mistral` only.")
		}
		if !ctx.Bot.Keys.DeleteKey(ctx.Msg.UserID, id) {
			return ctx.reply(fmt.Sprintf("You have no %s key stored.", id))
		}
		return ctx.reply(fmt.Sprintf("🗑️ Your %s API key has been removed.", id))
	})

	b.Commands.Register("history", func(ctx CommandContext) error {
		return ctx.reply(FormatHistory(ctx.Bot.History.Recent(ctx.Msg.ChatID, ctx.Msg.UserID)))
	})

	b.Commands.Register("clear", func(ctx CommandContext) error {
		ctx.Bot.History.Clear(ctx.Msg.ChatID, ctx.Msg.UserID)
		return ctx.reply("✅ Your prompt history has been cleared.")
	})

	b.Commands.Register("status", func(ctx CommandContext) error {
		uid := ctx.Msg.UserID
		settings := ctx.Bot.Keys.Settings(uid)

		var s strings.Builder
		fmt.Fprintf(&s, "Provider: %s, variations: %d\n", settings.Provider, settings.Count)
		if ctx.Bot.LLM.NativeKeyAvailable() {
			s.WriteString("Gemini: configured by the operator\n")
		} else {
			s.WriteString("Gemini: no key configured\n")
		}

		creds := ctx.Bot.credentials(uid)
		own := map[llm.ProviderID]bool{}
		for _, id := range ctx.Bot.Keys.StoredProviders(uid) {
			own[id] = true
		}
		for _, id := range llm.Providers {
			if id.Native() {
				continue
			}
			switch {
			case own[id]:
				fmt.Fprintf(&s, "%s: your key\n", id)
			case creds[id] != "":
				fmt.Fprintf(&s, "%s: shared key\n", id)
			default:
				fmt.Fprintf(&s, "%s: no key\n", id)
			}
		}
		return ctx.reply(strings.TrimRight(s.String(), "\n"))
	})
}
