package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// handleMessage processes a single message
func (b *Bot) handleMessage(message *tgbotapi.Message) {
	// Recover from panics to prevent bot crashes
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleMessage", zap.Any("panic", r))
			b.reply(message.Chat.ID, "An error occurred while processing your request. Please try again.")
		}
	}()

	userID := message.From.ID
	ctx := context.Background()

	// Check if user is in a conversation
	if state, ok := b.getState(userID); ok {
		// If conversation is already complete (Step == -1), clean it up and process as new command
		if state.Step == -1 {
			b.clearState(userID)
		} else if message.IsCommand() {
			// Allow any command to interrupt/cancel an ongoing conversation
			b.clearState(userID)
		} else {
			b.handleConversation(ctx, message, state)
			return
		}
	}

	if !message.IsCommand() {
		return
	}

	args := strings.Fields(message.CommandArguments())
	switch message.Command() {
	case "start", "help":
		b.handleStart(message)
	case "borrow":
		b.handleBorrow(ctx, message, args)
	case "return":
		b.handleReturn(ctx, message, args)
	case "pay":
		b.handlePay(ctx, message, args)
	case "fines":
		b.handleFines(ctx, message, args)
	case "loans":
		b.handleLoans(ctx, message, args)
	case "overdue":
		b.handleOverdue(ctx, message)
	case "policies":
		b.handlePolicies(message)
	case "history":
		b.handleHistory(ctx, message)
	case "login":
		b.handleLogin(message, args)
	case "logout":
		b.handleLogout(message)
	case "fine":
		b.requireAdmin(message, func() { b.handleManualFine(ctx, message, args) })
	case "policy":
		b.requireAdmin(message, func() { b.handlePolicy(message, args) })
	case "activate":
		b.requireAdmin(message, func() { b.handleSetActive(ctx, message, args, true) })
	case "deactivate":
		b.requireAdmin(message, func() { b.handleSetActive(ctx, message, args, false) })
	case "reconcile":
		b.requireAdmin(message, func() { b.handleReconcile(ctx, message) })
	case "remind":
		b.requireAdmin(message, func() { b.handleRemind(ctx, message) })
	default:
		b.reply(message.Chat.ID, "Unknown command. Use /start to see available commands.")
	}
}

// handleCallbackQuery processes inline keyboard button clicks
func (b *Bot) handleCallbackQuery(query *tgbotapi.CallbackQuery) {
	// Recover from panics
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleCallbackQuery", zap.Any("panic", r))
		}
	}()

	userID := query.From.ID
	ctx := context.Background()

	// Answer the callback query to remove loading state
	if b.api != nil {
		if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
			b.logger.Warn("Failed to answer callback", zap.Error(err))
		}
	}

	state, ok := b.getState(userID)
	if !ok {
		return
	}

	if strings.HasPrefix(query.Data, "media_type:") {
		b.handleMediaTypeCallback(ctx, query, state)
	}

	// Clean up completed conversations
	if state.Step == -1 {
		b.clearState(userID)
	}
}

func (b *Bot) requireAdmin(message *tgbotapi.Message, fn func()) {
	if b.auth == nil || !b.auth.IsLoggedIn() {
		b.reply(message.Chat.ID, "🔒 Admin login required. Use /login <user> <password>")
		return
	}
	fn()
}

func (b *Bot) getState(userID int64) (*ConversationState, bool) {
	b.statesMu.RLock()
	defer b.statesMu.RUnlock()
	state, ok := b.states[userID]
	return state, ok
}

func (b *Bot) setState(userID int64, state *ConversationState) {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()
	b.states[userID] = state
}

func (b *Bot) clearState(userID int64) {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()
	delete(b.states, userID)
}
