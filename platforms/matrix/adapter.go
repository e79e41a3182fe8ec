package matrix

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/prokashpul/prompts/core"
	"github.com/prokashpul/prompts/core/llm"
)

// Events older than this at delivery are history replayed by the initial sync.
const maxEventAge = 2 * time.Minute

type MatrixAdapter struct {
	Client   *mautrix.Client
	Core     *core.Bot
	AutoJoin bool
	Logger   zerolog.Logger

	ctx context.Context
}

func NewMatrixAdapter(client *mautrix.Client, coreBot *core.Bot, autoJoin bool, logger zerolog.Logger) *MatrixAdapter {
	return &MatrixAdapter{
		Client:   client,
		Core:     coreBot,
		AutoJoin: autoJoin,
		Logger:   logger.With().Str("platform", "matrix").Logger(),
		ctx:      context.Background(),
	}
}

// Start registers handlers and syncs until ctx is cancelled, restarting the sync loop
// with exponential backoff when it fails.
func (ma *MatrixAdapter) Start(ctx context.Context) error {
	ma.ctx = ctx
	syncer := ma.Client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, ma.handleEvent)
	syncer.OnEventType(event.StateMember, ma.handleInvite)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Second
	policy.MaxInterval = 5 * time.Minute
	policy.MaxElapsedTime = 0

	ma.Logger.Info().Str("user", ma.Client.UserID.String()).Msg("starting sync")
	err := backoff.RetryNotify(func() error {
		err := ma.Client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err == nil {
			err = errors.New("sync stopped")
		}
		return err
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		ma.Logger.Warn().Err(err).Dur("retry_in", wait).Msg("sync failed")
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (ma *MatrixAdapter) handleInvite(ctx context.Context, evt *event.Event) {
	if !ma.AutoJoin {
		return
	}

	state := evt.Content.AsMember()
	isForMe := evt.GetStateKey() == ma.Client.UserID.String()
	if state.Membership != event.MembershipInvite || !isForMe {
		return
	}

	log := ma.Logger.With().Str("room", evt.RoomID.String()).Str("inviter", evt.Sender.String()).Logger()
	log.Info().Msg("received invite, joining")

	if _, err := ma.Client.JoinRoom(ctx, evt.RoomID.String(), nil); err != nil {
		log.Error().Err(err).Msg("failed to join room")
		return
	}
	log.Info().Msg("joined room")
	_ = ma.SendText(evt.RoomID.String(), fmt.Sprintf("Hello! Send me an idea or an image and I'll write image prompts. Try `!%s help`.", ma.Core.Config.Name))
}

func (ma *MatrixAdapter) SendText(chatID string, text string) error {
	_, err := ma.Client.SendMessageEvent(ma.ctx, id.RoomID(chatID), event.EventMessage, &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	})
	return err
}

func (ma *MatrixAdapter) ReplyText(chatID string, originalMsgID string, text string) error {
	_, err := ma.Client.SendMessageEvent(ma.ctx, id.RoomID(chatID), event.EventMessage, &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
		RelatesTo: &event.RelatesTo{
			InReplyTo: &event.InReplyTo{
				EventID: id.EventID(originalMsgID),
			},
		},
	})
	return err
}

func (ma *MatrixAdapter) SendReaction(chatID string, messageID string, emoji string) error {
	_, err := ma.Client.SendMessageEvent(ma.ctx, id.RoomID(chatID), event.EventReaction, &event.ReactionEventContent{
		RelatesTo: event.RelatesTo{
			EventID: id.EventID(messageID),
			Key:     emoji,
		},
	})
	return err
}

// downloadImage fetches a plain or encrypted image attachment.
func (ma *MatrixAdapter) downloadImage(ctx context.Context, content *event.MessageEventContent) (*llm.Image, error) {
	var data []byte
	switch {
	case content.File != nil:
		cURI, err := content.File.URL.Parse()
		if err != nil {
			return nil, fmt.Errorf("bad encrypted file url: %w", err)
		}
		ciphertext, err := ma.Client.DownloadBytes(ctx, cURI)
		if err != nil {
			return nil, err
		}
		if err := content.File.DecryptInPlace(ciphertext); err != nil {
			return nil, fmt.Errorf("failed to decrypt image: %w", err)
		}
		data = ciphertext
	case content.URL != "":
		cURI, err := content.URL.Parse()
		if err != nil {
			return nil, fmt.Errorf("bad file url: %w", err)
		}
		if data, err = ma.Client.DownloadBytes(ctx, cURI); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("image event has no url")
	}

	img := &llm.Image{Data: data, Name: content.FileName}
	if img.Name == "" {
		img.Name = content.Body
	}
	if info := content.GetInfo(); info != nil {
		img.MIMEType = info.MimeType
	}
	if img.MIMEType == "" {
		img.MIMEType = http.DetectContentType(data)
	}
	return img, nil
}

// captionOf returns the text that accompanies an image. A body equal to the file name is no caption.
func captionOf(content *event.MessageEventContent) string {
	if content.MsgType != event.MsgImage {
		return content.Body
	}
	if content.FileName != "" && content.Body != content.FileName {
		return content.Body
	}
	return ""
}

func (ma *MatrixAdapter) repliedImage(ctx context.Context, evt *event.Event, replyID id.EventID) *llm.Image {
	log := ma.Logger.With().Str("room", evt.RoomID.String()).Str("reply_to", replyID.String()).Logger()

	replyEvt, err := ma.Client.GetEvent(ctx, evt.RoomID, replyID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to fetch replied event")
		return nil
	}
	replyEvt.RoomID = evt.RoomID
	if err := replyEvt.Content.ParseRaw(replyEvt.Type); err != nil {
		log.Debug().Err(err).Msg("failed to parse replied event")
	}

	if replyEvt.Type == event.EventEncrypted && ma.Client.Crypto != nil {
		decrypted, err := ma.Client.Crypto.Decrypt(ctx, replyEvt)
		if err != nil {
			log.Warn().Err(err).Msg("failed to decrypt replied event")
			return nil
		}
		replyEvt = decrypted
		if err := replyEvt.Content.ParseRaw(replyEvt.Type); err != nil {
			log.Debug().Err(err).Msg("failed to parse decrypted replied event")
		}
	}

	replyContent, ok := replyEvt.Content.Parsed.(*event.MessageEventContent)
	if !ok || replyContent.MsgType != event.MsgImage {
		return nil
	}

	log.Debug().Msg("downloading image from replied event")
	img, err := ma.downloadImage(ctx, replyContent)
	if err != nil {
		log.Warn().Err(err).Msg("failed to download replied image")
		return nil
	}
	return img
}

func (ma *MatrixAdapter) handleEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == ma.Client.UserID || time.Since(time.UnixMilli(evt.Timestamp)) > maxEventAge {
		return
	}

	msgContent, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}

	incomingMsg := core.IncomingMessage{
		Platform:  "matrix",
		UserID:    evt.Sender.String(),
		UserName:  evt.Sender.String(),
		ChatID:    evt.RoomID.String(),
		MessageID: evt.ID.String(),
		Content:   captionOf(msgContent),
	}
	if !ma.Core.Addressed(incomingMsg.Content) {
		return
	}

	if msgContent.MsgType == event.MsgImage {
		img, err := ma.downloadImage(ctx, msgContent)
		if err != nil {
			ma.Logger.Warn().Err(err).Str("event", evt.ID.String()).Msg("failed to download image")
		} else {
			incomingMsg.Images = []llm.Image{*img}
		}
	}

	if !incomingMsg.HasImages() && msgContent.RelatesTo != nil && msgContent.RelatesTo.InReplyTo != nil {
		if img := ma.repliedImage(ctx, evt, msgContent.RelatesTo.InReplyTo.EventID); img != nil {
			incomingMsg.ReplyTo = &core.IncomingMessage{Platform: "matrix", ChatID: incomingMsg.ChatID, Images: []llm.Image{*img}}
		}
	}

	go ma.Core.HandleMessage(ma.ctx, incomingMsg, ma)
}
