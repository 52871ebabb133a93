package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"library/internal/models"
)

// MessageSender is the part of the Telegram bot API the observer needs
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramObserver posts events to a staff chat
type TelegramObserver struct {
	sender MessageSender
	chatID int64
}

// NewTelegramObserver creates an observer posting to chatID
func NewTelegramObserver(sender MessageSender, chatID int64) *TelegramObserver {
	return &TelegramObserver{sender: sender, chatID: chatID}
}

// Handle sends a short message describing the event
func (o *TelegramObserver) Handle(ctx context.Context, event models.Event) error {
	text := fmt.Sprintf("[%s] %s (%s)\n%s", event.Type, event.Patron.Name, event.Patron.ID, event.Message)
	if _, err := o.sender.Send(tgbotapi.NewMessage(o.chatID, text)); err != nil {
		return fmt.Errorf("failed to post %s to chat %d: %w", event.Type, o.chatID, err)
	}
	return nil
}
