package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"vestflow/internal/auth"
	"vestflow/internal/config"
	"vestflow/internal/ledger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const callerContextKey contextKey = "caller"

// Identity is the subset of the Supabase client the API needs.
type Identity interface {
	SignUp(ctx context.Context, email, password, referralCode string) (auth.Session, error)
	Login(ctx context.Context, email, password string) (auth.Session, error)
	Refresh(ctx context.Context, refreshToken string) (auth.Session, error)
	VerifyAccessToken(ctx context.Context, accessToken string) (auth.SupabaseUser, error)
}

type Server struct {
	cfg    config.APIConfig
	log    *slog.Logger
	auth   Identity
	ledger *ledger.Service
	mux    *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, identity Identity, svc *ledger.Service) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		log:    logger,
		auth:   identity,
		ledger: svc,
		mux:    chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/signup", s.handleSignup)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/me", s.handleMe)

			r.Get("/investments", s.handleInvestmentsList)
			r.Post("/investments", s.handleInvestmentCreate)
			r.Get("/investments/{id}", s.handleInvestmentGet)
			r.Get("/investments/{id}/payouts", s.handlePayoutsList)
			r.Post("/investments/{id}/claim", s.handleClaim)

			r.Get("/transactions", s.handleTransactionsList)
			r.Get("/withdrawals", s.handleWithdrawalsList)
			r.Post("/withdrawals", s.handleWithdrawalCreate)

			r.Get("/referrals", s.handleReferralsList)
			r.Post("/referrals", s.handleReferralAttach)

			r.Get("/notifications", s.handleNotificationsList)
			r.Post("/notifications/{id}/read", s.handleNotificationRead)

			r.Route("/admin", func(r chi.Router) {
				r.Use(adminOnly)
				r.Get("/stats", s.handleAdminStats)
				r.Get("/investments/pending", s.handleAdminPendingInvestments)
				r.Post("/investments/{id}/approve", s.handleAdminInvestmentAction(s.ledger.ApproveInvestment))
				r.Post("/investments/{id}/reject", s.handleAdminInvestmentAction(s.ledger.RejectInvestment))
				r.Post("/investments/{id}/cancel", s.handleAdminInvestmentAction(s.ledger.CancelInvestment))
				r.Get("/withdrawals/pending", s.handleAdminPendingWithdrawals)
				r.Post("/withdrawals/{id}/approve", s.handleAdminWithdrawalAction(s.ledger.ApproveWithdrawal))
				r.Post("/withdrawals/{id}/reject", s.handleAdminWithdrawalAction(s.ledger.RejectWithdrawal))
				r.Post("/notifications", s.handleAdminNotify)
				r.Post("/sweep", s.handleAdminSweep)
			})
		})
	})
}

// authMiddleware verifies the bearer token with Supabase and resolves the
// ledger caller, creating the account the first time a user is seen.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.auth.VerifyAccessToken(r.Context(), token)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				s.log.Warn("token verification failed", "error", err)
			}
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		acct, err := s.ledger.EnsureAccount(r.Context(), user.ID, user.Email, user.ReferralCode())
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		caller := ledger.Caller{AccountID: acct.ID, Role: acct.Role}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerContextKey, caller)))
	})
}

func adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing auth context")
			return
		}
		if !caller.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerFromContext(ctx context.Context) (ledger.Caller, bool) {
	caller, ok := ctx.Value(callerContextKey).(ledger.Caller)
	return caller, ok && caller.AccountID != ""
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
