package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"library/internal/models"
)

// handleConversation processes multi-step conversations
func (b *Bot) handleConversation(ctx context.Context, message *tgbotapi.Message, state *ConversationState) {
	userID := message.From.ID

	switch state.Command {
	case "borrow":
		b.handleBorrowConversation(ctx, message, state)
	case "pay":
		b.handlePayConversation(ctx, message, state)
	}

	// Clean up completed conversations
	if state.Step == -1 {
		b.clearState(userID)
	}
}

// handleBorrowConversation handles the borrow multi-step process
func (b *Bot) handleBorrowConversation(ctx context.Context, message *tgbotapi.Message, state *ConversationState) {
	switch state.Step {
	case 1: // Waiting for patron ID
		patronID := strings.TrimSpace(message.Text)
		if patronID == "" {
			b.reply(message.Chat.ID, "Please enter the patron ID:")
			return
		}
		state.Data["patron"] = patronID
		state.Step = 2

		// Show media type selection with inline keyboard
		msg := tgbotapi.NewMessage(message.Chat.ID, "📀 Select media type:")
		msg.ReplyMarkup = b.mediaTypeKeyboard()
		b.sendMessage(msg)

	case 2: // Waiting for media type; typing it is accepted as well as the keyboard
		state.Data["media_type"] = parseMediaType(message.Text)
		state.Step = 3
		b.reply(message.Chat.ID, "Please enter the media ID (ISBN or disc ID):")

	case 3: // Waiting for media ID
		mediaID := strings.TrimSpace(message.Text)
		if mediaID == "" {
			b.reply(message.Chat.ID, "Please enter the media ID (ISBN or disc ID):")
			return
		}

		patronID := state.Data["patron"].(string)
		mediaType := state.Data["media_type"].(models.MediaType)
		b.borrow(ctx, message.Chat.ID, patronID, mediaID, mediaType)

		state.Step = -1 // Mark conversation as complete
	}
}

// handlePayConversation handles the payment multi-step process
func (b *Bot) handlePayConversation(ctx context.Context, message *tgbotapi.Message, state *ConversationState) {
	switch state.Step {
	case 1: // Waiting for fine ID
		fineID := strings.TrimSpace(message.Text)
		if fineID == "" {
			b.reply(message.Chat.ID, "Please enter the fine ID:")
			return
		}
		state.Data["fine"] = fineID
		state.Step = 2
		b.reply(message.Chat.ID, fmt.Sprintf("Enter the amount to pay towards %s:", fineID))

	case 2: // Waiting for amount
		amount, err := parseAmount(message.Text)
		if err != nil {
			b.reply(message.Chat.ID, "❌ Invalid amount. Please enter a number\n\nExample: 10.00")
			return
		}

		b.pay(ctx, message.Chat.ID, state.Data["fine"].(string), amount)
		state.Step = -1 // Mark conversation as complete
	}
}
