package bot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"library/internal/auth"
	"library/internal/fines"
	"library/internal/ledger"
	"library/internal/library"
	"library/internal/loans"
	"library/internal/models"
	"library/internal/storage/memory"
)

// Note: We can't easily mock tgbotapi.BotAPI, so replies are captured through
// the MessageSender the bot writes to

type recordingSender struct {
	texts []string
}

func (s *recordingSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		s.texts = append(s.texts, msg.Text)
	}
	return tgbotapi.Message{}, nil
}

func (s *recordingSender) last() string {
	if len(s.texts) == 0 {
		return ""
	}
	return s.texts[len(s.texts)-1]
}

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const (
	userID = int64(123)
	chatID = int64(456)
)

func setupBot(t *testing.T) (*Bot, *recordingSender, *memory.DB) {
	t.Helper()

	ctx := context.Background()
	db := memory.NewDB()
	require.NoError(t, memory.Seed(ctx, db))

	registry := fines.NewDefaultRegistry()
	l := ledger.New(db, db, db, registry, nil, zap.NewNop())
	m := loans.NewManager(db, db, db, l, zap.NewNop())
	svc := library.NewService(db, db, registry, l, m, nil, time.Second, zap.NewNop())

	hash, err := auth.HashPassword("s3cret")
	require.NoError(t, err)

	audit := memory.NewAuditLog()
	b := newBot(svc, auth.NewService("admin", hash, zap.NewNop()), audit, []int64{userID}, zap.NewNop())
	sender := &recordingSender{}
	b.sender = sender
	b.now = func() time.Time { return day0 }

	return b, sender, db
}

func command(text string) *tgbotapi.Message {
	name := strings.Fields(text)[0]
	return &tgbotapi.Message{
		From:     &tgbotapi.User{ID: userID},
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}
}

func text(s string) *tgbotapi.Message {
	return &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: s,
	}
}

func TestBot_BorrowWithArguments(t *testing.T) {
	bot, sender, db := setupBot(t)

	bot.handleMessage(command("/borrow U001 book 978-0132350884"))

	assert.Contains(t, sender.last(), "Loan L0001 created")
	assert.Contains(t, sender.last(), "Due: 2024-01-29")

	item, err := db.FindItem(context.Background(), "978-0132350884", models.MediaBook)
	require.NoError(t, err)
	assert.False(t, item.Available)
}

func TestBot_BorrowConversation(t *testing.T) {
	bot, sender, _ := setupBot(t)

	// Step 1: Start /borrow without arguments
	bot.handleMessage(command("/borrow"))

	state, ok := bot.getState(userID)
	require.True(t, ok, "Expected conversation state to be created")
	assert.Equal(t, "borrow", state.Command)
	assert.Equal(t, 1, state.Step)

	// Step 2: Provide patron ID, media type keyboard is shown
	bot.handleMessage(text("U002"))
	assert.Equal(t, 2, state.Step)
	assert.Contains(t, sender.last(), "Select media type")

	// Step 3: Pick the media type from the keyboard
	bot.handleCallbackQuery(&tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: userID},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}},
		Data:    "media_type:CD",
	})
	assert.Equal(t, 3, state.Step)
	assert.Equal(t, models.MediaCD, state.Data["media_type"])

	// Step 4: Provide the media ID, conversation completes
	bot.handleMessage(text("CD001"))
	assert.Contains(t, sender.last(), "Loan L0001 created")
	assert.Contains(t, sender.last(), "Due: 2024-01-08")

	_, exists := bot.getState(userID)
	assert.False(t, exists, "Expected conversation state to be cleaned up")
}

func TestBot_ReturnLateAndPay(t *testing.T) {
	bot, sender, _ := setupBot(t)

	bot.handleMessage(command("/borrow U001 CD CD001"))
	require.Contains(t, sender.last(), "L0001")

	bot.now = func() time.Time { return day0.AddDate(0, 0, 10) }
	bot.handleMessage(command("/return L0001"))
	assert.Contains(t, sender.last(), "3 day(s) late")
	assert.Contains(t, sender.last(), "Fine F0001: $20.00")

	bot.handleMessage(command("/borrow U001 BOOK 978-0132350884"))
	assert.Contains(t, sender.last(), "Borrowing denied")

	// Pay through the dialog, overpaying by $5
	bot.handleMessage(command("/pay"))
	bot.handleMessage(text("F0001"))
	bot.handleMessage(text("$25"))
	assert.Contains(t, sender.last(), "Fine fully paid")
	assert.Contains(t, sender.last(), "Refund due: $5.00")
	assert.Contains(t, sender.last(), "Borrowing privileges restored")
}

func TestBot_PayRejectedWhileItemOut(t *testing.T) {
	bot, sender, _ := setupBot(t)

	bot.handleMessage(command("/borrow U001 BOOK 978-0132350884"))
	bot.now = func() time.Time { return day0.AddDate(0, 0, 35) }

	bot.handleMessage(command("/fines U001"))
	assert.Contains(t, sender.last(), "has no fines")

	bot.handleMessage(command("/loans U001"))
	assert.Contains(t, sender.last(), "OVERDUE")

	bot.handleMessage(command("/overdue"))
	assert.Contains(t, sender.last(), "7 day(s) late")

	bot.handleMessage(command("/login admin s3cret"))
	bot.handleMessage(command("/reconcile"))
	assert.Contains(t, sender.last(), "1 fine(s)")

	bot.handleMessage(command("/pay F0001 10"))
	assert.Contains(t, sender.last(), "not returned yet")
}

func TestBot_AdminCommandsRequireLogin(t *testing.T) {
	bot, sender, _ := setupBot(t)

	bot.handleMessage(command("/policy CD 25"))
	assert.Contains(t, sender.last(), "Admin login required")

	bot.handleMessage(command("/login admin wrong"))
	assert.Contains(t, sender.last(), "Invalid credentials")

	bot.handleMessage(command("/login admin s3cret"))
	assert.Contains(t, sender.last(), "Logged in")

	bot.handleMessage(command("/policy cd 25"))
	assert.Contains(t, sender.last(), "CD set to $25.00")

	bot.handleMessage(command("/policies"))
	assert.Contains(t, sender.last(), "CD: $25.00")
	assert.Contains(t, sender.last(), "BOOK: $10.00")

	bot.handleMessage(command("/fine U002 4.50 damaged case"))
	assert.Contains(t, sender.last(), "Fine F0001 of $4.50 applied to U002")

	bot.handleMessage(command("/fines U002"))
	assert.Contains(t, sender.last(), "damaged case")
	assert.Contains(t, sender.last(), "Total unpaid: $4.50")

	bot.handleMessage(command("/activate U003"))
	assert.Contains(t, sender.last(), "Patron U003 activated")

	bot.handleMessage(command("/logout"))
	bot.handleMessage(command("/deactivate U003"))
	assert.Contains(t, sender.last(), "Admin login required")
}

func TestBot_RemindWithoutMailer(t *testing.T) {
	bot, sender, _ := setupBot(t)

	bot.handleMessage(command("/login admin s3cret"))
	bot.handleMessage(command("/remind"))
	assert.Contains(t, sender.last(), "no mailer configured")
}

func TestBot_ErrorReplies(t *testing.T) {
	bot, sender, _ := setupBot(t)

	bot.handleMessage(command("/return L9999"))
	assert.Contains(t, sender.last(), "Not found")

	bot.handleMessage(command("/pay F0001 abc"))
	assert.Contains(t, sender.last(), "Invalid input")

	bot.handleMessage(command("/borrow U003 CD CD001"))
	assert.Contains(t, sender.last(), "Borrowing denied")

	bot.handleMessage(command("/return"))
	assert.Contains(t, sender.last(), "Usage: /return <loan>")
}

func TestBot_HistoryWithoutEvents(t *testing.T) {
	bot, sender, _ := setupBot(t)

	bot.handleMessage(command("/history"))
	assert.Contains(t, sender.last(), "No lending events recorded yet")
}

func TestBot_PanicRecovery(t *testing.T) {
	bot, sender, _ := setupBot(t)

	// Create a state that will cause a panic (missing required data)
	bot.setState(userID, &ConversationState{
		Command: "pay",
		Step:    2,
		Data:    map[string]interface{}{},
	})

	// This would panic without recovery - test that it doesn't crash
	assert.NotPanics(t, func() { bot.handleMessage(text("10")) })
	assert.Contains(t, sender.last(), "An error occurred")
}

func TestBot_CommandAfterCallbackCompletion(t *testing.T) {
	bot, _, _ := setupBot(t)

	// Simulate a completed conversation state (Step = -1) as would happen after a callback
	bot.setState(userID, &ConversationState{
		Command: "borrow",
		Step:    -1,
		Data:    map[string]interface{}{},
	})

	// The stale state should be cleaned up and /start should be processed
	bot.handleMessage(command("/start"))

	_, exists := bot.getState(userID)
	assert.False(t, exists, "Expected state to be cleaned up after processing new command")
}

func TestBot_CommandInterruptsConversation(t *testing.T) {
	bot, _, _ := setupBot(t)

	bot.handleMessage(command("/pay"))
	_, exists := bot.getState(userID)
	require.True(t, exists, "Expected conversation state to be created")

	// Now interrupt with a different command (/start)
	bot.handleMessage(command("/start"))

	_, exists = bot.getState(userID)
	assert.False(t, exists, "Expected conversation state to be deleted when interrupted by new command")
}

func TestBot_UnauthorizedUser(t *testing.T) {
	bot, sender, _ := setupBot(t)

	msg := command("/borrow U001 CD CD001")
	msg.From = &tgbotapi.User{ID: 999, UserName: "stranger"}
	bot.HandleWebhookUpdate(tgbotapi.Update{Message: msg})

	assert.Equal(t, "Sorry, you are not authorized to use this bot.", sender.last())
}

func TestBot_UnauthorizedCallbackIgnored(t *testing.T) {
	bot, sender, _ := setupBot(t)

	bot.HandleWebhookUpdate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		From: &tgbotapi.User{ID: 999},
		Data: "media_type:BOOK",
	}})

	assert.Empty(t, sender.texts)
}

func TestBot_SweepOverdueFinesLateBorrowers(t *testing.T) {
	bot, _, db := setupBot(t)
	ctx := context.Background()

	bot.handleMessage(command("/borrow U001 book 978-0132350884"))
	assert.Equal(t, 0, bot.sweepOverdue(ctx))

	bot.now = func() time.Time { return day0.AddDate(0, 0, 35) }
	assert.Equal(t, 1, bot.sweepOverdue(ctx))
	assert.Equal(t, 0, bot.sweepOverdue(ctx), "second sweep must not fine again")

	charged, err := db.ListFinesByPatron(ctx, "U001")
	require.NoError(t, err)
	require.Len(t, charged, 1)
	assert.Equal(t, "10.00", charged[0].Amount.StringFixed(2))

	patron, err := db.GetPatron(ctx, "U001")
	require.NoError(t, err)
	assert.False(t, patron.CanBorrow)
}

func TestBot_SweepRunsOnStartAndStops(t *testing.T) {
	bot, _, db := setupBot(t)
	ctx := context.Background()

	bot.handleMessage(command("/borrow U001 book 978-0132350884"))
	bot.now = func() time.Time { return day0.AddDate(0, 0, 35) }
	bot.SetReconcileInterval(time.Hour)

	bot.startSweep()
	assert.Eventually(t, func() bool {
		charged, err := db.ListFinesByPatron(ctx, "U001")
		return err == nil && len(charged) == 1
	}, time.Second, 10*time.Millisecond)

	bot.Stop()
	bot.Stop()
	assert.Nil(t, bot.cancelSweep)
}

func TestBot_SweepDisabled(t *testing.T) {
	bot, _, _ := setupBot(t)

	bot.startSweep()
	assert.Nil(t, bot.cancelSweep)
	bot.Stop()
}

func TestHTTPServer_PatronFines(t *testing.T) {
	bot, _, _ := setupBot(t)
	bot.handleMessage(command("/login admin s3cret"))
	bot.handleMessage(command("/fine U001 3 lost card"))

	mux := http.NewServeMux()
	NewHTTPServer(bot, false).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/patrons/U001/fines", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PatronFinesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "U001", resp.PatronID)
	assert.False(t, resp.CanBorrow)
	assert.Equal(t, "3.00", resp.TotalUnpaid)
	require.Len(t, resp.Fines, 1)
	assert.Equal(t, "lost card", resp.Fines[0].Reason)
	require.Len(t, resp.Breakdown, 1)
	assert.Equal(t, ledger.ManualMediaType, models.MediaType(resp.Breakdown[0].MediaType))
}

func TestHTTPServer_Errors(t *testing.T) {
	bot, _, _ := setupBot(t)

	mux := http.NewServeMux()
	NewHTTPServer(bot, false).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/patrons/U999/fines", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "PATRON_NOT_FOUND")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPServer_WebhookModeRequiresAuth(t *testing.T) {
	bot, _, _ := setupBot(t)

	mux := http.NewServeMux()
	NewHTTPServer(bot, true).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/overdue", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
