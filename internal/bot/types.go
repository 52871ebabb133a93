package bot

import (
	"context"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"library/internal/auth"
	"library/internal/library"
	"library/internal/notify"
	"library/internal/storage"
)

// Bot represents the Telegram bot wrapper
type Bot struct {
	api          *tgbotapi.BotAPI
	sender       notify.MessageSender // nil in tests that don't check replies
	svc          *library.Service
	auth         *auth.Service
	audit        storage.AuditLog // optional, backs /history
	allowedUsers map[int64]bool
	states       map[int64]*ConversationState
	statesMu     sync.RWMutex
	now          func() time.Time
	logger       *zap.Logger

	// Background overdue reconciliation
	reconcileInterval time.Duration
	sweepMu           sync.Mutex
	cancelSweep       context.CancelFunc
	sweepDone         chan struct{}
}

// ConversationState tracks the state of multi-step commands
type ConversationState struct {
	Command string
	Step    int
	Data    map[string]interface{}
}
