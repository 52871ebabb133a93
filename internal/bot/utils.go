package bot

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apperrors "library/internal/errors"
	"library/internal/models"
)

// sendMessage sends a message, logging delivery failures
func (b *Bot) sendMessage(msg tgbotapi.Chattable) {
	if b.sender == nil {
		return // For testing
	}
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Warn("Failed to send message", zap.Error(err))
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.sendMessage(tgbotapi.NewMessage(chatID, text))
}

// replyError turns an engine error into a user-facing message
func (b *Bot) replyError(chatID int64, err error) {
	var text string
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		text = "❌ Invalid input: " + apperrors.Reason(err)
	case apperrors.KindNotFound:
		text = "🔍 Not found: " + apperrors.Reason(err)
	case apperrors.KindDenied:
		text = "⛔ Borrowing denied: " + apperrors.Reason(err)
	case apperrors.KindConflict, apperrors.KindPolicy:
		text = "⚠️ " + apperrors.Reason(err)
	default:
		b.logger.Error("Command failed", zap.Error(err))
		text = "An error occurred while processing your request. Please try again."
	}
	b.reply(chatID, text)
}

// today is the engine's current day
func (b *Bot) today() time.Time {
	return models.Day(b.now())
}

func parseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if err != nil {
		return decimal.Zero, apperrors.New(apperrors.CodeInvalidAmount, "%q is not an amount", s)
	}
	return amount, nil
}

func parseMediaType(s string) models.MediaType {
	return models.MediaType(strings.ToUpper(strings.TrimSpace(s)))
}

func formatLoan(loan models.Loan) string {
	status := fmt.Sprintf("due %s", loan.DueDate.Format("2006-01-02"))
	if loan.Overdue {
		status += " ⏰ OVERDUE"
	}
	return fmt.Sprintf("%s: %s %s (%s)", loan.ID, loan.MediaType, loan.MediaID, status)
}

func formatFine(fine models.Fine) string {
	status := "unpaid"
	switch {
	case fine.Paid:
		status = "paid"
	case fine.PaidAmount.IsPositive():
		status = fmt.Sprintf("%s remaining", models.FormatAmount(fine.RemainingBalance()))
	}
	return fmt.Sprintf("%s: %s, %s - %s", fine.ID, models.FormatAmount(fine.Amount), status, fine.Reason)
}
