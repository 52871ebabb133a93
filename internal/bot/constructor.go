package bot

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"library/internal/auth"
	"library/internal/library"
	"library/internal/storage"
)

// NewBot creates a new Telegram bot
func NewBot(token string, svc *library.Service, authService *auth.Service, audit storage.AuditLog, allowedUserIDs []int64, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		logger.Error("Failed to create bot API", zap.Error(err))
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.Info("Bot created", zap.String("bot_username", api.Self.UserName))

	b := newBot(svc, authService, audit, allowedUserIDs, logger)
	b.api = api
	b.sender = api
	return b, nil
}

func newBot(svc *library.Service, authService *auth.Service, audit storage.AuditLog, allowedUserIDs []int64, logger *zap.Logger) *Bot {
	allowedUsers := make(map[int64]bool)
	for _, id := range allowedUserIDs {
		allowedUsers[id] = true
	}

	return &Bot{
		svc:          svc,
		auth:         authService,
		audit:        audit,
		allowedUsers: allowedUsers,
		states:       make(map[int64]*ConversationState),
		now:          time.Now,
		logger:       logger,
	}
}

// GetAPI returns the bot API, used to attach the Telegram notification observer
func (b *Bot) GetAPI() *tgbotapi.BotAPI {
	return b.api
}
