package bot

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	apperrors "library/internal/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HTTPServer exposes read-only lending reports to the Telegram Mini App
type HTTPServer struct {
	bot         *Bot
	webhookMode bool // If false (polling mode), skip authentication for easier local dev
}

// NewHTTPServer creates a new HTTP server for the Mini App
func NewHTTPServer(bot *Bot, webhookMode bool) *HTTPServer {
	return &HTTPServer{
		bot:         bot,
		webhookMode: webhookMode,
	}
}

// RegisterRoutes registers API routes on the provided mux
func (hs *HTTPServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/patrons/{id}/fines", hs.authMiddleware(hs.handlePatronFines))
	mux.HandleFunc("GET /api/overdue", hs.authMiddleware(hs.handleOverdue))
	mux.HandleFunc("GET /api/events", hs.authMiddleware(hs.handleEvents))
}

// validateTelegramInitData validates the Telegram Mini App initData
func (hs *HTTPServer) validateTelegramInitData(initData string) (int64, error) {
	if initData == "" {
		return 0, fmt.Errorf("missing initData")
	}

	values, err := url.ParseQuery(initData)
	if err != nil {
		return 0, fmt.Errorf("invalid initData format: %w", err)
	}

	hash := values.Get("hash")
	if hash == "" {
		return 0, fmt.Errorf("missing hash in initData")
	}
	values.Del("hash")

	// Create data-check-string
	var keys []string
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var dataCheckString strings.Builder
	for i, k := range keys {
		if i > 0 {
			dataCheckString.WriteByte('\n')
		}
		dataCheckString.WriteString(k)
		dataCheckString.WriteByte('=')
		dataCheckString.WriteString(values.Get(k))
	}

	secretKey := hmac.New(sha256.New, []byte("WebAppData"))
	secretKey.Write([]byte(hs.bot.api.Token))
	secret := secretKey.Sum(nil)

	h := hmac.New(sha256.New, secret)
	h.Write([]byte(dataCheckString.String()))
	calculatedHash := hex.EncodeToString(h.Sum(nil))

	if !hmac.Equal([]byte(calculatedHash), []byte(hash)) {
		return 0, fmt.Errorf("invalid hash")
	}

	// Check auth_date (data should be recent, within 24 hours)
	authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("missing auth_date")
	}
	if time.Now().Unix()-authDate > 86400 {
		return 0, fmt.Errorf("initData is too old")
	}

	userStr := values.Get("user")
	if userStr == "" {
		return 0, fmt.Errorf("missing user data")
	}

	var userData struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(userStr), &userData); err != nil {
		return 0, fmt.Errorf("invalid user data: %w", err)
	}

	if !hs.bot.allowedUsers[userData.ID] {
		return 0, fmt.Errorf("user not allowed")
	}

	return userData.ID, nil
}

// authMiddleware validates Telegram Mini App authentication
// In polling mode (webhookMode=false), authentication is skipped for easier local development
func (hs *HTTPServer) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !hs.webhookMode {
			hs.bot.logger.Debug("Skipping authentication (polling mode)",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
			)
			next(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "tma ") {
			hs.bot.logger.Warn("Missing or invalid authorization header")
			http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
			return
		}

		userID, err := hs.validateTelegramInitData(strings.TrimPrefix(authHeader, "tma "))
		if err != nil {
			hs.bot.logger.Warn("Failed to validate initData",
				zap.Error(err),
				zap.String("remote_addr", r.RemoteAddr),
			)
			http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
			return
		}

		hs.bot.logger.Debug("Authenticated request",
			zap.Int64("user_id", userID),
			zap.String("path", r.URL.Path),
		)

		next(w, r)
	}
}

type fineJSON struct {
	ID         string `json:"id"`
	LoanID     string `json:"loan_id,omitempty"`
	Amount     string `json:"amount"`
	PaidAmount string `json:"paid_amount"`
	Remaining  string `json:"remaining"`
	Paid       bool   `json:"paid"`
	Reason     string `json:"reason"`
}

type breakdownJSON struct {
	MediaType string `json:"media_type"`
	Count     int    `json:"count"`
	Total     string `json:"total"`
}

// PatronFinesResponse is the body of GET /api/patrons/{id}/fines
type PatronFinesResponse struct {
	PatronID    string          `json:"patron_id"`
	Name        string          `json:"name"`
	CanBorrow   bool            `json:"can_borrow"`
	TotalUnpaid string          `json:"total_unpaid"`
	Fines       []fineJSON      `json:"fines"`
	Breakdown   []breakdownJSON `json:"breakdown"`
}

// handlePatronFines returns a patron's fines and the unpaid breakdown by media type
func (hs *HTTPServer) handlePatronFines(w http.ResponseWriter, r *http.Request) {
	account, err := hs.bot.svc.Account(r.Context(), r.PathValue("id"), hs.bot.today())
	if err != nil {
		hs.writeError(w, err)
		return
	}

	resp := PatronFinesResponse{
		PatronID:    account.Patron.ID,
		Name:        account.Patron.Name,
		CanBorrow:   account.Patron.CanBorrow,
		TotalUnpaid: account.TotalUnpaid.StringFixed(2),
		Fines:       make([]fineJSON, 0, len(account.Fines)),
		Breakdown:   make([]breakdownJSON, 0, len(account.Breakdown)),
	}
	for _, f := range account.Fines {
		resp.Fines = append(resp.Fines, fineJSON{
			ID:         f.ID,
			LoanID:     f.LoanID,
			Amount:     f.Amount.StringFixed(2),
			PaidAmount: f.PaidAmount.StringFixed(2),
			Remaining:  f.RemainingBalance().StringFixed(2),
			Paid:       f.Paid,
			Reason:     f.Reason,
		})
	}
	for _, line := range account.Breakdown {
		resp.Breakdown = append(resp.Breakdown, breakdownJSON{
			MediaType: string(line.MediaType),
			Count:     line.Count,
			Total:     line.Total.StringFixed(2),
		})
	}

	hs.writeJSON(w, http.StatusOK, resp)
}

type overdueJSON struct {
	LoanID    string `json:"loan_id"`
	PatronID  string `json:"patron_id"`
	MediaID   string `json:"media_id"`
	MediaType string `json:"media_type"`
	DueDate   string `json:"due_date"`
	DaysLate  int    `json:"days_late"`
}

// handleOverdue returns every overdue loan
func (hs *HTTPServer) handleOverdue(w http.ResponseWriter, r *http.Request) {
	today := hs.bot.today()
	loans, err := hs.bot.svc.OverdueLoans(r.Context(), today)
	if err != nil {
		hs.writeError(w, err)
		return
	}

	resp := make([]overdueJSON, 0, len(loans))
	for _, loan := range loans {
		resp = append(resp, overdueJSON{
			LoanID:    loan.ID,
			PatronID:  loan.PatronID,
			MediaID:   loan.MediaID,
			MediaType: string(loan.MediaType),
			DueDate:   loan.DueDate.Format("2006-01-02"),
			DaysLate:  loan.OverdueDays(today),
		})
	}
	hs.writeJSON(w, http.StatusOK, resp)
}

// handleEvents returns the most recent lending events
func (hs *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if hs.bot.audit == nil {
		http.Error(w, `{"error":"Event history is disabled"}`, http.StatusNotFound)
		return
	}

	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 100 {
			http.Error(w, `{"error":"Invalid limit"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := hs.bot.audit.GetLastEvents(r.Context(), limit)
	if err != nil {
		hs.bot.logger.Error("Failed to list events", zap.Error(err))
		http.Error(w, `{"error":"Failed to fetch events"}`, http.StatusInternalServerError)
		return
	}

	type eventJSON struct {
		ID         string    `json:"id"`
		OccurredAt time.Time `json:"occurred_at"`
		Type       string    `json:"type"`
		PatronID   string    `json:"patron_id"`
		FineID     string    `json:"fine_id,omitempty"`
		Message    string    `json:"message"`
	}
	resp := make([]eventJSON, 0, len(records))
	for _, rec := range records {
		resp = append(resp, eventJSON{
			ID:         rec.ID,
			OccurredAt: rec.OccurredAt,
			Type:       rec.EventType,
			PatronID:   rec.PatronID,
			FineID:     rec.FineID,
			Message:    rec.Message,
		})
	}
	hs.writeJSON(w, http.StatusOK, resp)
}

func (hs *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hs.bot.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

// writeError maps engine error kinds to HTTP status codes
func (hs *HTTPServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		status = http.StatusBadRequest
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindConflict, apperrors.KindPolicy, apperrors.KindDenied:
		status = http.StatusConflict
	default:
		hs.bot.logger.Error("Request failed", zap.Error(err))
	}

	hs.writeJSON(w, status, map[string]string{
		"error": apperrors.Reason(err),
		"code":  string(apperrors.CodeOf(err)),
	})
}

