package bot

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const pollTimeoutSeconds = 60

// SetReconcileInterval sets how often the overdue sweep runs, 0 disables it.
// Must be called before Start or StartWebhook.
func (b *Bot) SetReconcileInterval(interval time.Duration) {
	b.reconcileInterval = interval
}

// Start runs the bot in polling mode and blocks until Stop is called
func (b *Bot) Start() error {
	b.logLendingState("polling")

	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		b.logger.Warn("Failed to delete webhook, polling may receive nothing", zap.Error(err))
	}

	b.startSweep()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSeconds
	for update := range b.api.GetUpdatesChan(u) {
		b.HandleWebhookUpdate(update)
	}
	return nil
}

// StartWebhook registers webhookURL with Telegram and starts the overdue sweep.
// Updates then arrive through HandleWebhookUpdate.
func (b *Bot) StartWebhook(webhookURL string) error {
	b.logLendingState("webhook")

	webhookConfig, err := tgbotapi.NewWebhook(webhookURL + "/telegram-webhook")
	if err != nil {
		return err
	}
	webhookConfig.MaxConnections = 40

	if _, err := b.api.Request(webhookConfig); err != nil {
		b.logger.Error("Failed to set webhook", zap.Error(err), zap.String("webhook_url", webhookURL))
		return err
	}

	if info, err := b.api.GetWebhookInfo(); err != nil {
		b.logger.Warn("Failed to get webhook info", zap.Error(err))
	} else {
		b.logger.Info("Webhook registered",
			zap.String("url", info.URL),
			zap.Int("pending_updates", info.PendingUpdateCount),
			zap.String("last_error", info.LastErrorMessage),
		)
	}

	b.startSweep()
	return nil
}

// Stop ends the overdue sweep and stops polling
func (b *Bot) Stop() {
	b.stopSweep()
	if b.api != nil {
		b.api.StopReceivingUpdates()
	}
}

// HandleWebhookUpdate dispatches one update from either mode
func (b *Bot) HandleWebhookUpdate(update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		if !b.authorized(update.Message.From, zap.String("text", update.Message.Text)) {
			b.reply(update.Message.Chat.ID, "Sorry, you are not authorized to use this bot.")
			return
		}
		b.handleMessage(update.Message)
	case update.CallbackQuery != nil:
		if !b.authorized(update.CallbackQuery.From, zap.String("callback_data", update.CallbackQuery.Data)) {
			return
		}
		b.handleCallbackQuery(update.CallbackQuery)
	}
}

// authorized checks the sender against ALLOWED_USER_IDS and logs refusals
func (b *Bot) authorized(user *tgbotapi.User, detail zap.Field) bool {
	if user != nil && b.allowedUsers[user.ID] {
		return true
	}

	fields := []zap.Field{detail}
	if user != nil {
		fields = append(fields, zap.Int64("user_id", user.ID), zap.String("username", user.UserName))
	}
	b.logger.Warn("Unauthorized access attempt", fields...)
	return false
}

// logLendingState records what the bot is serving at startup
func (b *Bot) logLendingState(mode string) {
	ctx := context.Background()

	fields := []zap.Field{
		zap.String("mode", mode),
		zap.Int("fine_policies", len(b.svc.Policies())),
		zap.Duration("reconcile_interval", b.reconcileInterval),
	}
	if overdue, err := b.svc.OverdueLoans(ctx, b.today()); err == nil {
		fields = append(fields, zap.Int("overdue_loans", len(overdue)))
	}
	if b.api != nil {
		fields = append(fields, zap.String("bot_username", b.api.Self.UserName))
	}
	b.logger.Info("Library bot starting", fields...)
}

func (b *Bot) startSweep() {
	if b.reconcileInterval <= 0 {
		b.logger.Info("Overdue sweep disabled")
		return
	}

	b.sweepMu.Lock()
	defer b.sweepMu.Unlock()
	if b.cancelSweep != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.cancelSweep = cancel
	b.sweepDone = done

	go func() {
		defer close(done)
		b.runSweep(ctx, b.reconcileInterval)
	}()
}

func (b *Bot) stopSweep() {
	b.sweepMu.Lock()
	cancel, done := b.cancelSweep, b.sweepDone
	b.cancelSweep, b.sweepDone = nil, nil
	b.sweepMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// runSweep reconciles once right away, then on every tick
func (b *Bot) runSweep(ctx context.Context, interval time.Duration) {
	b.sweepOverdue(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweepOverdue(ctx)
		}
	}
}

// sweepOverdue fines every patron holding an overdue loan and returns how many fines changed
func (b *Bot) sweepOverdue(ctx context.Context) int {
	changed, err := b.svc.ReconcileAll(ctx, b.today())
	if err != nil {
		b.logger.Error("Overdue sweep failed", zap.Error(err))
		return 0
	}
	if len(changed) > 0 {
		b.logger.Info("Overdue sweep applied fines", zap.Int("fines", len(changed)))
	}
	return len(changed)
}
