package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"library/internal/models"
)

// handleStart shows welcome message and available commands
func (b *Bot) handleStart(message *tgbotapi.Message) {
	text := `Welcome to the Library Bot! 📚

Available commands:
/borrow <patron> <type> <media> - Lend an item (no arguments starts a dialog)
/return <loan> - Return a borrowed item
/pay <fine> <amount> - Pay towards a fine (no arguments starts a dialog)
/fines <patron> - Show a patron's fines
/loans <patron> - Show a patron's active loans
/overdue - List all overdue loans
/policies - Show overdue fine amounts
/history - Show the last 10 lending events
/login <user> <password> - Admin login
/logout - Admin logout

Admin commands:
/fine <patron> <amount> <reason> - Apply a manual fine
/policy <type> <amount> - Set the overdue fine for a media type
/activate <patron>, /deactivate <patron> - Toggle a patron account
/reconcile - Fine every overdue loan
/remind - Email overdue reminders`

	b.reply(message.Chat.ID, text)
}

// handleBorrow lends an item, or starts the borrow dialog without arguments
func (b *Bot) handleBorrow(ctx context.Context, message *tgbotapi.Message, args []string) {
	if len(args) == 0 {
		b.setState(message.From.ID, &ConversationState{
			Command: "borrow",
			Step:    1,
			Data:    make(map[string]interface{}),
		})
		b.reply(message.Chat.ID, "Please enter the patron ID:")
		return
	}
	if len(args) != 3 {
		b.reply(message.Chat.ID, "Usage: /borrow <patron> <type> <media>")
		return
	}

	b.borrow(ctx, message.Chat.ID, args[0], args[2], parseMediaType(args[1]))
}

func (b *Bot) borrow(ctx context.Context, chatID int64, patronID, mediaID string, mediaType models.MediaType) {
	loan, err := b.svc.Borrow(ctx, patronID, mediaID, mediaType, b.today())
	if err != nil {
		b.replyError(chatID, err)
		return
	}

	b.reply(chatID, fmt.Sprintf("✅ Loan %s created\n\nPatron: %s\nItem: %s %s\nDue: %s",
		loan.ID, loan.PatronID, loan.MediaType, loan.MediaID, loan.DueDate.Format("2006-01-02")))
}

// handleReturn closes a loan and reports any fine
func (b *Bot) handleReturn(ctx context.Context, message *tgbotapi.Message, args []string) {
	if len(args) != 1 {
		b.reply(message.Chat.ID, "Usage: /return <loan>")
		return
	}

	result, err := b.svc.Return(ctx, args[0], b.today())
	if result.Loan.ID == "" && err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}

	var text strings.Builder
	fmt.Fprintf(&text, "✅ %s %s returned", result.Loan.MediaType, result.Loan.MediaID)
	if result.OverdueDays > 0 {
		fmt.Fprintf(&text, " %d day(s) late", result.OverdueDays)
	}
	if result.Fine != nil {
		fmt.Fprintf(&text, "\n\nFine %s: %s", result.Fine.ID, models.FormatAmount(result.Fine.RemainingBalance()))
	}
	b.reply(message.Chat.ID, text.String())

	if err != nil {
		b.replyError(message.Chat.ID, err)
	}
}

// handlePay pays a fine, or starts the payment dialog without arguments
func (b *Bot) handlePay(ctx context.Context, message *tgbotapi.Message, args []string) {
	if len(args) == 0 {
		b.setState(message.From.ID, &ConversationState{
			Command: "pay",
			Step:    1,
			Data:    make(map[string]interface{}),
		})
		b.reply(message.Chat.ID, "Please enter the fine ID:")
		return
	}
	if len(args) != 2 {
		b.reply(message.Chat.ID, "Usage: /pay <fine> <amount>")
		return
	}

	amount, err := parseAmount(args[1])
	if err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}
	b.pay(ctx, message.Chat.ID, args[0], amount)
}

func (b *Bot) pay(ctx context.Context, chatID int64, fineID string, amount decimal.Decimal) {
	result, err := b.svc.PayFine(ctx, fineID, amount, b.today())
	if err != nil {
		b.replyError(chatID, err)
		return
	}

	var text strings.Builder
	fmt.Fprintf(&text, "💰 Paid %s towards fine %s", models.FormatAmount(result.Applied), fineID)
	if result.FullyPaid {
		text.WriteString("\nFine fully paid.")
	} else {
		fmt.Fprintf(&text, "\nRemaining: %s", models.FormatAmount(result.Remaining))
	}
	if result.Refund.IsPositive() {
		fmt.Fprintf(&text, "\nRefund due: %s", models.FormatAmount(result.Refund))
	}
	if result.BorrowingRestored {
		text.WriteString("\n\n🎉 Borrowing privileges restored.")
	}
	b.reply(chatID, text.String())
}

// handleFines shows a patron's fines grouped by media type
func (b *Bot) handleFines(ctx context.Context, message *tgbotapi.Message, args []string) {
	if len(args) != 1 {
		b.reply(message.Chat.ID, "Usage: /fines <patron>")
		return
	}

	account, err := b.svc.Account(ctx, args[0], b.today())
	if err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}

	if len(account.Fines) == 0 {
		b.reply(message.Chat.ID, fmt.Sprintf("%s has no fines.", account.Patron.Name))
		return
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Fines for %s (%s):\n\n", account.Patron.Name, account.Patron.ID)
	for _, fine := range account.Fines {
		text.WriteString(formatFine(fine) + "\n")
	}
	if len(account.Breakdown) > 0 {
		text.WriteString("\nUnpaid by type:\n")
		for _, line := range account.Breakdown {
			fmt.Fprintf(&text, "%s: %d fine(s), %s\n", line.MediaType, line.Count, models.FormatAmount(line.Total))
		}
	}
	fmt.Fprintf(&text, "\nTotal unpaid: %s", models.FormatAmount(account.TotalUnpaid))
	b.reply(message.Chat.ID, text.String())
}

// handleLoans shows a patron's active loans
func (b *Bot) handleLoans(ctx context.Context, message *tgbotapi.Message, args []string) {
	if len(args) != 1 {
		b.reply(message.Chat.ID, "Usage: /loans <patron>")
		return
	}

	account, err := b.svc.Account(ctx, args[0], b.today())
	if err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}

	if len(account.ActiveLoans) == 0 {
		b.reply(message.Chat.ID, fmt.Sprintf("%s has no active loans.", account.Patron.Name))
		return
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Active loans for %s (%s):\n\n", account.Patron.Name, account.Patron.ID)
	for _, loan := range account.ActiveLoans {
		text.WriteString(formatLoan(loan) + "\n")
	}
	if !account.Patron.CanBorrow {
		text.WriteString("\n⛔ Borrowing is blocked until fines are paid.")
	}
	b.reply(message.Chat.ID, text.String())
}

// handleOverdue lists every overdue loan
func (b *Bot) handleOverdue(ctx context.Context, message *tgbotapi.Message) {
	today := b.today()
	loans, err := b.svc.OverdueLoans(ctx, today)
	if err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}

	if len(loans) == 0 {
		b.reply(message.Chat.ID, "No overdue loans. 🎉")
		return
	}

	var text strings.Builder
	text.WriteString("Overdue loans:\n\n")
	for i, loan := range loans {
		fmt.Fprintf(&text, "%d. %s - patron %s, %d day(s) late\n", i+1, formatLoan(loan), loan.PatronID, loan.OverdueDays(today))
	}
	b.reply(message.Chat.ID, text.String())
}

// handlePolicies shows the flat fine for each media type
func (b *Bot) handlePolicies(message *tgbotapi.Message) {
	policies := b.svc.Policies()

	var text strings.Builder
	text.WriteString("Overdue fines:\n\n")
	for _, t := range b.svc.MediaTypes() {
		fmt.Fprintf(&text, "%s: %s\n", t, models.FormatAmount(policies[t]))
	}
	b.reply(message.Chat.ID, text.String())
}

// handleHistory shows the last 10 lending events
func (b *Bot) handleHistory(ctx context.Context, message *tgbotapi.Message) {
	if b.audit == nil {
		b.reply(message.Chat.ID, "Event history is disabled.")
		return
	}

	records, err := b.audit.GetLastEvents(ctx, 10)
	if err != nil {
		b.logger.Error("Failed to load event history", zap.Error(err))
		b.reply(message.Chat.ID, fmt.Sprintf("Error: %v", err))
		return
	}

	if len(records) == 0 {
		b.reply(message.Chat.ID, "No lending events recorded yet.")
		return
	}

	var text strings.Builder
	text.WriteString("Last lending events:\n\n")
	for i, r := range records {
		fmt.Fprintf(&text, "%d. %s %s - %s: %s\n",
			i+1, r.OccurredAt.Format("2006-01-02"), r.EventType, r.PatronID, r.Message)
	}
	b.reply(message.Chat.ID, text.String())
}

func (b *Bot) handleLogin(message *tgbotapi.Message, args []string) {
	if len(args) != 2 {
		b.reply(message.Chat.ID, "Usage: /login <user> <password>")
		return
	}
	if b.auth == nil || !b.auth.Login(args[0], args[1]) {
		b.reply(message.Chat.ID, "❌ Invalid credentials.")
		return
	}
	b.reply(message.Chat.ID, "🔓 Logged in as admin.")
}

func (b *Bot) handleLogout(message *tgbotapi.Message) {
	if b.auth != nil {
		b.auth.Logout()
	}
	b.reply(message.Chat.ID, "🔒 Logged out.")
}

// handleManualFine charges a patron outside of any loan
func (b *Bot) handleManualFine(ctx context.Context, message *tgbotapi.Message, args []string) {
	if len(args) < 3 {
		b.reply(message.Chat.ID, "Usage: /fine <patron> <amount> <reason>")
		return
	}

	amount, err := parseAmount(args[1])
	if err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}

	fine, err := b.svc.ApplyManualFine(ctx, args[0], amount, strings.Join(args[2:], " "))
	if err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}
	b.reply(message.Chat.ID, fmt.Sprintf("Fine %s of %s applied to %s.", fine.ID, models.FormatAmount(fine.Amount), fine.PatronID))
}

// handlePolicy sets the flat overdue fine for a media type
func (b *Bot) handlePolicy(message *tgbotapi.Message, args []string) {
	if len(args) != 2 {
		b.reply(message.Chat.ID, "Usage: /policy <type> <amount>")
		return
	}

	amount, err := parseAmount(args[1])
	if err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}

	mediaType := parseMediaType(args[0])
	if err := b.svc.RegisterFlatPolicy(mediaType, amount); err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}
	b.reply(message.Chat.ID, fmt.Sprintf("Overdue fine for %s set to %s.", mediaType, models.FormatAmount(amount)))
}

func (b *Bot) handleSetActive(ctx context.Context, message *tgbotapi.Message, args []string, active bool) {
	if len(args) != 1 {
		b.reply(message.Chat.ID, "Usage: /activate <patron> or /deactivate <patron>")
		return
	}

	if err := b.svc.SetPatronActive(ctx, args[0], active); err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}

	state := "deactivated"
	if active {
		state = "activated"
	}
	b.reply(message.Chat.ID, fmt.Sprintf("Patron %s %s.", args[0], state))
}

// handleReconcile fines every overdue loan in the library
func (b *Bot) handleReconcile(ctx context.Context, message *tgbotapi.Message) {
	changed, err := b.svc.ReconcileAll(ctx, b.today())
	if err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}
	b.reply(message.Chat.ID, fmt.Sprintf("Overdue reconciliation done: %d fine(s) created or corrected.", len(changed)))
}

// handleRemind emails every patron holding overdue items
func (b *Bot) handleRemind(ctx context.Context, message *tgbotapi.Message) {
	sent, err := b.svc.SendOverdueReminders(ctx, b.today())
	if err != nil {
		b.reply(message.Chat.ID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(message.Chat.ID, fmt.Sprintf("📧 Sent %d overdue reminder(s).", sent))
}
