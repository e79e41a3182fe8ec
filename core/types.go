package core

import "github.com/prokashpul/prompts/core/llm"

type IncomingMessage struct {
	Platform  string
	UserID    string
	UserName  string
	ChatID    string
	MessageID string
	Content   string
	Images    []llm.Image
	ReplyTo   *IncomingMessage
}

func (m IncomingMessage) HasImages() bool {
	return len(m.Images) > 0
}

type Responder interface {
	SendText(chatID string, text string) error
	ReplyText(chatID string, originalMsgID string, text string) error
	SendReaction(chatID string, messageID string, emoji string) error
}
