package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/qcom/accounts/internal/models"
	"github.com/qcom/accounts/internal/service"
	"github.com/sirupsen/logrus"
)

const SessionCookieName = "token"

type contextKey string

const accountKey contextKey = "account"

// AccountResolver turns a session token into the account it belongs to.
type AccountResolver interface {
	CurrentAccount(ctx context.Context, token string) (*models.Account, error)
}

type AuthMiddleware struct {
	accounts AccountResolver
	logger   *logrus.Logger
}

func NewAuthMiddleware(accounts AccountResolver, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		accounts: accounts,
		logger:   logger,
	}
}

// RequireAuth resolves the session cookie, or a Bearer header, to an account.
// Requests without a valid session never reach next.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, err := m.accounts.CurrentAccount(r.Context(), sessionToken(r))
		if err != nil {
			var svcErr *service.Error
			if !errors.As(err, &svcErr) {
				svcErr = &service.Error{Kind: service.KindInternal, Err: err}
			}
			if svcErr.Kind == service.KindInternal {
				m.logger.WithError(err).Error("Failed to resolve session")
			} else {
				m.logger.WithError(err).Debug("Session rejected")
			}
			m.respondError(w, svcErr.Status(), string(svcErr.Kind), svcErr.PublicMessage())
			return
		}

		ctx := context.WithValue(r.Context(), accountKey, account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccountFromContext returns the account attached by RequireAuth.
func AccountFromContext(ctx context.Context) (*models.Account, bool) {
	account, ok := ctx.Value(accountKey).(*models.Account)
	return account, ok && account != nil
}

func sessionToken(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
