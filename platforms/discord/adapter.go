package discord

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/prokashpul/prompts/core"
	"github.com/prokashpul/prompts/core/llm"
)

const (
	messageLimit     = 2000
	defaultMaxImage  = 20 << 20
	downloadDeadline = 30 * time.Second
)

var imageExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
}

type Config struct {
	Enabled       bool   `toml:"enabled"`
	Token         string `toml:"token"`
	MaxImageBytes int64  `toml:"max_image_bytes"`
}

type DiscordAdapter struct {
	Session *discordgo.Session
	Core    *core.Bot
	BotID   string
	Logger  zerolog.Logger

	httpClient    *http.Client
	maxImageBytes int64
	ctx           context.Context
}

func NewDiscordAdapter(cfg Config, coreBot *core.Bot, logger zerolog.Logger) (*DiscordAdapter, error) {
	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, err
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	maxImage := cfg.MaxImageBytes
	if maxImage <= 0 {
		maxImage = defaultMaxImage
	}
	return &DiscordAdapter{
		Session:       dg,
		Core:          coreBot,
		Logger:        logger.With().Str("platform", "discord").Logger(),
		httpClient:    &http.Client{Timeout: downloadDeadline},
		maxImageBytes: maxImage,
		ctx:           context.Background(),
	}, nil
}

func (da *DiscordAdapter) Start(ctx context.Context) error {
	da.ctx = ctx
	da.Session.AddHandler(da.handleMessage)

	if err := da.Session.Open(); err != nil {
		return fmt.Errorf("error opening discord connection: %w", err)
	}

	u, err := da.Session.User("@me")
	if err != nil {
		return fmt.Errorf("error fetching self user: %w", err)
	}
	da.BotID = u.ID

	da.Logger.Info().Str("user", u.Username).Msg("discord adapter started")
	return nil
}

func (da *DiscordAdapter) Close() error {
	return da.Session.Close()
}

// addressedContent strips bot mentions and prefixes the bot name so the core sees the
// message as addressed to it.
func addressedContent(content, botID, name string) string {
	mentions := []string{"<@" + botID + ">", "<@!" + botID + ">"}
	mentioned := false
	for _, m := range mentions {
		if strings.Contains(content, m) {
			mentioned = true
			content = strings.ReplaceAll(content, m, "")
		}
	}
	if !mentioned {
		return content
	}
	return name + " " + strings.TrimSpace(content)
}

// imageType reports the MIME type of an image attachment, or "" for anything else.
func imageType(att *discordgo.MessageAttachment) string {
	if ct, _, err := mime.ParseMediaType(att.ContentType); err == nil && strings.HasPrefix(ct, "image/") {
		return ct
	}
	return imageExtensions[strings.ToLower(path.Ext(att.Filename))]
}

func (da *DiscordAdapter) collectImages(attachments []*discordgo.MessageAttachment) []llm.Image {
	var images []llm.Image
	for _, att := range attachments {
		mimeType := imageType(att)
		if mimeType == "" {
			continue
		}
		data, err := da.downloadAttachment(att.URL)
		if err != nil {
			da.Logger.Warn().Err(err).Str("file", att.Filename).Msg("failed to download attachment")
			continue
		}
		images = append(images, llm.Image{Data: data, MIMEType: mimeType, Name: att.Filename})
	}
	return images
}

func (da *DiscordAdapter) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == da.BotID || m.Author.Bot {
		return
	}

	content := addressedContent(m.Content, da.BotID, da.Core.Config.Name)
	if !da.Core.Addressed(content) {
		return
	}

	incomingMsg := core.IncomingMessage{
		Platform:  "discord",
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		ChatID:    m.ChannelID,
		MessageID: m.ID,
		Content:   content,
		Images:    da.collectImages(m.Attachments),
	}

	if !incomingMsg.HasImages() && m.ReferencedMessage != nil {
		if images := da.collectImages(m.ReferencedMessage.Attachments); len(images) > 0 {
			incomingMsg.ReplyTo = &core.IncomingMessage{
				Platform:  "discord",
				ChatID:    m.ChannelID,
				MessageID: m.ReferencedMessage.ID,
				Images:    images,
			}
		}
	}

	go da.Core.HandleMessage(da.ctx, incomingMsg, da)
}

func (da *DiscordAdapter) downloadAttachment(url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(da.ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := da.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attachment download returned %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, da.maxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > da.maxImageBytes {
		return nil, fmt.Errorf("attachment larger than %d bytes", da.maxImageBytes)
	}
	return data, nil
}

// splitMessage cuts text into chunks of at most limit runes, preferring line breaks.
func splitMessage(text string, limit int) []string {
	var chunks []string
	for utf8.RuneCountInString(text) > limit {
		cut := len(text)
		n := 0
		for i := range text {
			if n == limit {
				cut = i
				break
			}
			n++
		}
		if nl := strings.LastIndex(text[:cut], "\n"); nl > 0 {
			cut = nl
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" || len(chunks) == 0 {
		chunks = append(chunks, text)
	}
	return chunks
}

func (da *DiscordAdapter) SendText(chatID string, text string) error {
	for _, chunk := range splitMessage(text, messageLimit) {
		if _, err := da.Session.ChannelMessageSend(chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (da *DiscordAdapter) ReplyText(chatID string, originalMsgID string, text string) error {
	ref := &discordgo.MessageReference{
		MessageID: originalMsgID,
		ChannelID: chatID,
	}

	for i, chunk := range splitMessage(text, messageLimit) {
		send := &discordgo.MessageSend{Content: chunk}
		if i == 0 {
			send.Reference = ref
		}
		if _, err := da.Session.ChannelMessageSendComplex(chatID, send); err != nil {
			return err
		}
	}
	return nil
}

func (da *DiscordAdapter) SendReaction(chatID string, messageID string, emoji string) error {
	return da.Session.MessageReactionAdd(chatID, messageID, emoji)
}
