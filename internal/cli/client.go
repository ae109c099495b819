package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"vestflow/internal/auth"
	"vestflow/internal/ledger"

	"github.com/shopspring/decimal"
)

// APIError is a non-2xx response from the vestflow API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsAPIError reports whether err came back from the server rather than the
// network. Only network failures are worth queueing for a later sync.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type ReferralsView struct {
	ReferralCode  string            `json:"referral_code"`
	ReferralBonus decimal.Decimal   `json:"referral_bonus"`
	Referrals     []ledger.Referral `json:"referrals"`
}

func (c *Client) Signup(ctx context.Context, email, password, referralCode string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":         email,
		"password":      password,
		"referral_code": referralCode,
	}, &out, "")
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/refresh", "", map[string]any{
		"refresh_token": refreshToken,
	}, &out, "")
	return out, err
}

func (c *Client) Me(ctx context.Context, accessToken string) (ledger.AccountSummary, error) {
	var out ledger.AccountSummary
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/me", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) ListInvestments(ctx context.Context, accessToken string, limit int) ([]ledger.Investment, error) {
	var out struct {
		Investments []ledger.Investment `json:"investments"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, withLimit("/v1/investments", limit), accessToken, nil, &out, "")
	return out.Investments, err
}

func (c *Client) GetInvestment(ctx context.Context, accessToken string, id int64) (ledger.Investment, error) {
	var out ledger.Investment
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/investments/%d", id), accessToken, nil, &out, "")
	return out, err
}

func (c *Client) CreateInvestment(ctx context.Context, accessToken string, principal decimal.Decimal, idem string) (ledger.Investment, error) {
	var out ledger.Investment
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/investments", accessToken, InvestmentBody(principal), &out, idem)
	return out, err
}

func (c *Client) ListPayouts(ctx context.Context, accessToken string, investmentID int64) ([]ledger.Payout, error) {
	var out struct {
		Payouts []ledger.Payout `json:"payouts"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/investments/%d/payouts", investmentID), accessToken, nil, &out, "")
	return out.Payouts, err
}

func (c *Client) Claim(ctx context.Context, accessToken string, investmentID int64) (ledger.ClaimResult, error) {
	var out ledger.ClaimResult
	err := c.jsonRequest(ctx, http.MethodPost, ClaimPath(investmentID), accessToken, nil, &out, "")
	return out, err
}

func (c *Client) ListTransactions(ctx context.Context, accessToken string, limit int) ([]ledger.Transaction, error) {
	var out struct {
		Transactions []ledger.Transaction `json:"transactions"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, withLimit("/v1/transactions", limit), accessToken, nil, &out, "")
	return out.Transactions, err
}

func (c *Client) ListWithdrawals(ctx context.Context, accessToken string, limit int) ([]ledger.WithdrawalRequest, error) {
	var out struct {
		Withdrawals []ledger.WithdrawalRequest `json:"withdrawals"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, withLimit("/v1/withdrawals", limit), accessToken, nil, &out, "")
	return out.Withdrawals, err
}

func (c *Client) RequestWithdrawal(ctx context.Context, accessToken string, body map[string]any, idem string) (ledger.WithdrawalRequest, error) {
	var out ledger.WithdrawalRequest
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/withdrawals", accessToken, body, &out, idem)
	return out, err
}

func (c *Client) Referrals(ctx context.Context, accessToken string) (ReferralsView, error) {
	var out ReferralsView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/referrals", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) AttachReferral(ctx context.Context, accessToken, code string) (ledger.Referral, error) {
	var out ledger.Referral
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/referrals", accessToken, map[string]any{
		"code": code,
	}, &out, "")
	return out, err
}

func (c *Client) ListNotifications(ctx context.Context, accessToken string, limit int) ([]ledger.Notification, error) {
	var out struct {
		Notifications []ledger.Notification `json:"notifications"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, withLimit("/v1/notifications", limit), accessToken, nil, &out, "")
	return out.Notifications, err
}

func (c *Client) MarkNotificationRead(ctx context.Context, accessToken string, id int64) error {
	return c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/notifications/%d/read", id), accessToken, nil, nil, "")
}

func (c *Client) AdminStats(ctx context.Context, accessToken string) (ledger.AdminStats, error) {
	var out ledger.AdminStats
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/admin/stats", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) PendingInvestments(ctx context.Context, accessToken string, limit int) ([]ledger.Investment, error) {
	var out struct {
		Investments []ledger.Investment `json:"investments"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, withLimit("/v1/admin/investments/pending", limit), accessToken, nil, &out, "")
	return out.Investments, err
}

// InvestmentAction runs approve, reject or cancel on an investment.
func (c *Client) InvestmentAction(ctx context.Context, accessToken string, id int64, action string) (ledger.Investment, error) {
	var out ledger.Investment
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/admin/investments/%d/%s", id, url.PathEscape(action)), accessToken, nil, &out, "")
	return out, err
}

func (c *Client) PendingWithdrawals(ctx context.Context, accessToken string, limit int) ([]ledger.WithdrawalRequest, error) {
	var out struct {
		Withdrawals []ledger.WithdrawalRequest `json:"withdrawals"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, withLimit("/v1/admin/withdrawals/pending", limit), accessToken, nil, &out, "")
	return out.Withdrawals, err
}

func (c *Client) WithdrawalAction(ctx context.Context, accessToken string, id int64, action string) (ledger.WithdrawalRequest, error) {
	var out ledger.WithdrawalRequest
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/admin/withdrawals/%d/%s", id, url.PathEscape(action)), accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Notify(ctx context.Context, accessToken, accountID, title, message string) (ledger.Notification, error) {
	var out ledger.Notification
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/notifications", accessToken, map[string]any{
		"account_id": accountID,
		"title":      title,
		"message":    message,
	}, &out, "")
	return out, err
}

func (c *Client) Sweep(ctx context.Context, accessToken string) (ledger.SweepResult, error) {
	var out ledger.SweepResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/sweep", accessToken, nil, &out, "")
	return out, err
}

// Do replays a raw queued write.
func (c *Client) Do(ctx context.Context, method, path, accessToken string, body map[string]any, idem string) (map[string]any, error) {
	var out map[string]any
	var in any
	if body != nil {
		in = body
	}
	err := c.jsonRequest(ctx, method, path, accessToken, in, &out, idem)
	return out, err
}

func InvestmentBody(principal decimal.Decimal) map[string]any {
	return map[string]any{"principal": principal.String()}
}

func ClaimPath(investmentID int64) string {
	return fmt.Sprintf("/v1/investments/%d/claim", investmentID)
}

func withLimit(path string, limit int) string {
	if limit <= 0 {
		return path
	}
	return path + "?limit=" + strconv.Itoa(limit)
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func errorMessage(raw []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(raw))
}
