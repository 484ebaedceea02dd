package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/qcom/accounts/internal/middleware"
	"github.com/qcom/accounts/internal/models"
	"github.com/qcom/accounts/internal/service"
	"github.com/sirupsen/logrus"
)

// Accounts is the account lifecycle the handlers drive.
type Accounts interface {
	Register(ctx context.Context, in service.RegisterInput) (*service.RegisterResult, error)
	VerifyOTP(ctx context.Context, email, phone, code string) (*models.Session, error)
	Login(ctx context.Context, email, password string) (*models.Session, error)
	Logout() string
	RequestPasswordReset(ctx context.Context, email string) (string, error)
	ConfirmPasswordReset(ctx context.Context, rawToken, password, confirmPassword string) (*models.Session, error)
}

type AuthHandlers struct {
	accounts Accounts
	logger   *logrus.Logger
}

func NewAuthHandlers(accounts Accounts, logger *logrus.Logger) *AuthHandlers {
	return &AuthHandlers{
		accounts: accounts,
		logger:   logger,
	}
}

type VerifyOTPRequest struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
	OTP   string `json:"otp"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type SessionResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Token   string          `json:"token"`
	User    *models.Account `json:"user"`
}

type UserResponse struct {
	Success bool            `json:"success"`
	User    *models.Account `json:"user"`
}

type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterInput
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, MessageResponse{Success: true, Message: result.Message})
}

func (h *AuthHandlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.accounts.VerifyOTP(r.Context(), req.Email, req.Phone, req.OTP)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithSession(w, http.StatusOK, "Account Verified.", session)
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithSession(w, http.StatusOK, "User logged in successfully.", session)
}

func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})

	h.respondWithJSON(w, http.StatusOK, MessageResponse{Success: true, Message: h.accounts.Logout()})
}

func (h *AuthHandlers) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, string(service.KindUnauthenticated), "User is not authenticated!")
		return
	}

	h.respondWithJSON(w, http.StatusOK, UserResponse{Success: true, User: account})
}

func (h *AuthHandlers) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	message, err := h.accounts.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, MessageResponse{Success: true, Message: message})
}

func (h *AuthHandlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.accounts.ConfirmPasswordReset(r.Context(), mux.Vars(r)["token"], req.Password, req.ConfirmPassword)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithSession(w, http.StatusOK, "Reset Password Successfully.", session)
}

func (h *AuthHandlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.WithError(err).Debug("Rejected malformed request body")
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return false
	}
	return true
}

func (h *AuthHandlers) respondWithSession(w http.ResponseWriter, status int, message string, session *models.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})

	h.respondWithJSON(w, status, SessionResponse{
		Success: true,
		Message: message,
		Token:   session.Token,
		User:    session.Account,
	})
}

func (h *AuthHandlers) respondWithServiceError(w http.ResponseWriter, err error) {
	var svcErr *service.Error
	if !errors.As(err, &svcErr) {
		svcErr = &service.Error{Kind: service.KindInternal, Err: err}
	}

	entry := h.logger.WithError(err).WithField("kind", svcErr.Kind)
	if svcErr.Status() >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}

	h.respondWithError(w, svcErr.Status(), string(svcErr.Kind), svcErr.PublicMessage())
}

func (h *AuthHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *AuthHandlers) respondWithError(w http.ResponseWriter, status int, code, message string) {
	h.respondWithJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}
