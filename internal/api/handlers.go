package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"vestflow/internal/auth"
	"vestflow/internal/ledger"

	"github.com/shopspring/decimal"
)

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email        string `json:"email"`
		Password     string `json:"password"`
		ReferralCode string `json:"referral_code"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.auth.SignUp(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password), in.ReferralCode)
	if err != nil {
		writeAuthError(w, http.StatusBadRequest, err)
		return
	}
	if session.User.ID != "" {
		if _, err := s.ledger.EnsureAccount(r.Context(), session.User.ID, session.User.Email, in.ReferralCode); err != nil {
			s.writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.auth.Login(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		writeAuthError(w, http.StatusUnauthorized, err)
		return
	}
	if _, err := s.ledger.EnsureAccount(r.Context(), session.User.ID, session.User.Email, session.User.ReferralCode()); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(in.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}
	session, err := s.auth.Refresh(r.Context(), strings.TrimSpace(in.RefreshToken))
	if err != nil {
		writeAuthError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	out, err := s.ledger.AccountSummary(r.Context(), caller)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInvestmentsList(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	out, err := s.ledger.ListInvestments(r.Context(), caller, queryLimit(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"investments": out})
}

func (s *Server) handleInvestmentCreate(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	var in struct {
		Principal decimal.Decimal `json:"principal"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.ledger.CreateInvestment(r.Context(), caller, ledger.CreateInvestmentInput{
		Principal:      in.Principal,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleInvestmentGet(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.ledger.GetInvestment(r.Context(), caller, id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePayoutsList(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.ledger.ListPayouts(r.Context(), caller, id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payouts": out})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.ledger.ClaimDailyPayout(r.Context(), caller, id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTransactionsList(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	out, err := s.ledger.ListTransactions(r.Context(), caller, queryLimit(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

func (s *Server) handleWithdrawalsList(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	out, err := s.ledger.ListWithdrawals(r.Context(), caller, queryLimit(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawals": out})
}

func (s *Server) handleWithdrawalCreate(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	var in struct {
		Amount        decimal.Decimal `json:"amount"`
		BankName      string          `json:"bank_name"`
		AccountNumber string          `json:"account_number"`
		AccountName   string          `json:"account_name"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.ledger.RequestWithdrawal(r.Context(), caller, ledger.WithdrawalInput{
		Amount:         in.Amount,
		BankName:       in.BankName,
		AccountNumber:  in.AccountNumber,
		AccountName:    in.AccountName,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleReferralsList(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	acct, err := s.ledger.GetAccount(r.Context(), caller)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out, err := s.ledger.ListReferrals(r.Context(), caller, queryLimit(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"referral_code":  acct.ReferralCode,
		"referral_bonus": acct.ReferralBonus,
		"referrals":      out,
	})
}

func (s *Server) handleReferralAttach(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	var in struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.ledger.AttachReferral(r.Context(), caller, in.Code)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleNotificationsList(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	out, err := s.ledger.ListNotifications(r.Context(), caller, queryLimit(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": out})
}

func (s *Server) handleNotificationRead(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.ledger.MarkNotificationRead(r.Context(), caller, id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	out, err := s.ledger.AdminStats(r.Context(), caller)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminPendingInvestments(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	out, err := s.ledger.ListPendingInvestments(r.Context(), caller, queryLimit(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"investments": out})
}

func (s *Server) handleAdminPendingWithdrawals(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	out, err := s.ledger.ListPendingWithdrawals(r.Context(), caller, queryLimit(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawals": out})
}

type investmentAction func(ctx context.Context, caller ledger.Caller, id int64) (ledger.Investment, error)

func (s *Server) handleAdminInvestmentAction(action investmentAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := callerFromContext(r.Context())
		id, err := pathID(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		out, err := action(r.Context(), caller, id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type withdrawalAction func(ctx context.Context, caller ledger.Caller, id int64) (ledger.WithdrawalRequest, error)

func (s *Server) handleAdminWithdrawalAction(action withdrawalAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := callerFromContext(r.Context())
		id, err := pathID(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		out, err := action(r.Context(), caller, id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleAdminNotify(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	var in struct {
		AccountID string `json:"account_id"`
		Title     string `json:"title"`
		Message   string `json:"message"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.ledger.CreateNotification(r.Context(), caller, in.AccountID, in.Title, in.Message)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleAdminSweep(w http.ResponseWriter, r *http.Request) {
	out, err := s.ledger.SweepExpiredInvestments(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// writeAuthError passes GoTrue client errors through with their status and
// hides upstream failures behind a 502.
func writeAuthError(w http.ResponseWriter, fallback int, err error) {
	var statusErr *auth.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Status >= 400 && statusErr.Status < 500 {
			writeError(w, fallback, statusErr.Body)
			return
		}
	}
	writeError(w, http.StatusBadGateway, "auth provider unavailable")
}
