package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// mediaTypeKeyboard offers every media type that has a fine policy
func (b *Bot) mediaTypeKeyboard() tgbotapi.InlineKeyboardMarkup {
	var row []tgbotapi.InlineKeyboardButton
	for _, mediaType := range b.svc.MediaTypes() {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(string(mediaType), "media_type:"+string(mediaType)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

// handleMediaTypeCallback processes media type selection from inline keyboard
func (b *Bot) handleMediaTypeCallback(ctx context.Context, query *tgbotapi.CallbackQuery, state *ConversationState) {
	if state.Command != "borrow" || state.Step != 2 {
		b.logger.Debug("Ignoring stale media type callback",
			zap.Int64("user_id", query.From.ID),
			zap.String("callback_data", query.Data),
		)
		return
	}

	state.Data["media_type"] = parseMediaType(strings.TrimPrefix(query.Data, "media_type:"))
	state.Step = 3

	b.reply(query.Message.Chat.ID, "Please enter the media ID (ISBN or disc ID):")
}
