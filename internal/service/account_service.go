package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"
	"github.com/qcom/accounts/internal/config"
	"github.com/qcom/accounts/internal/models"
	"github.com/qcom/accounts/internal/notify"
	"github.com/qcom/accounts/internal/repository"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// AccountStore is the persistence the lifecycle needs. Lookups return
// nil, nil when nothing matches; conditional writes that lose a race return
// repository.ErrConditionFailed.
type AccountStore interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id string) (*models.Account, error)
	FindVerified(ctx context.Context, email, phone string) (*models.Account, error)
	ListUnverified(ctx context.Context, email, phone string, since time.Time) ([]models.Account, error)
	DeleteUnverified(ctx context.Context, id string) error
	MarkVerified(ctx context.Context, id, code string) error
	SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	ClearResetToken(ctx context.Context, id, tokenHash string) error
	FindByResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.Account, error)
	ResetPassword(ctx context.Context, id, tokenHash, passwordHash string, now time.Time) error
}

type Notifier interface {
	SendVerificationCode(ctx context.Context, channel notify.Channel, email, phone, code string) error
	SendPasswordReset(ctx context.Context, email, resetURL string) error
}

type TokenSigner interface {
	Issue(accountID string) (string, time.Time, error)
	Verify(token string) (string, error)
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

const (
	invalidCredentialsMessage = "Invalid email or password!"
	invalidResetTokenMessage  = "Reset password token is invalid or has been expired."
	emailDispatchTimeout      = 30 * time.Second

	// bcrypt ignores input past this length and x/crypto rejects it.
	maxPasswordBytes = 72
)

type AccountService struct {
	store        AccountStore
	notifier     Notifier
	signer       TokenSigner
	phones       *PhoneValidator
	cfg          *config.AccountConfig
	logger       *logrus.Logger
	now          func() time.Time
	passwordCost int
	dummyHash    string
	dispatches   sync.WaitGroup
}

func NewAccountService(
	store AccountStore,
	notifier Notifier,
	signer TokenSigner,
	cfg *config.AccountConfig,
	logger *logrus.Logger,
) (*AccountService, error) {
	phones, err := NewPhoneValidator(cfg.PhoneRegion, cfg.PhonePattern)
	if err != nil {
		return nil, err
	}

	s := &AccountService{
		store:    store,
		notifier: notifier,
		signer:   signer,
		phones:   phones,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
	if err := s.setPasswordCost(bcrypt.DefaultCost); err != nil {
		return nil, err
	}
	return s, nil
}

// setPasswordCost also refreshes the hash compared against when a login email
// is unknown, so both paths cost the same.
func (s *AccountService) setPasswordCost(cost int) error {
	dummy, err := hashPassword(uuid.NewString(), cost)
	if err != nil {
		return err
	}
	s.passwordCost = cost
	s.dummyHash = dummy
	return nil
}

// Wait blocks until background email dispatches have finished.
func (s *AccountService) Wait() {
	s.dispatches.Wait()
}

type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
	Channel  string `json:"verificationMethod"`
}

func (in RegisterInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Email, validation.Required, validation.Length(3, 254), validation.Match(emailPattern)),
		validation.Field(&in.Password, validation.Required, validation.Length(1, maxPasswordBytes)),
		validation.Field(&in.Phone, validation.Required),
		validation.Field(&in.Channel, validation.Required),
	)
}

type RegisterResult struct {
	Message string `json:"message"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a pending account and sends its verification code.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	in.Channel = strings.TrimSpace(in.Channel)

	if err := in.Validate(); err != nil {
		return nil, wrapError(KindInvalidInput, "All fields are required!", err)
	}
	if len(in.Password) > maxPasswordBytes {
		return nil, newError(KindInvalidInput, "Password is too long!")
	}

	phone, err := s.phones.Normalize(in.Phone)
	if err != nil {
		return nil, wrapError(KindInvalidInput, "Invalid phone number!", err)
	}

	channel, err := notify.ParseChannel(in.Channel)
	if err != nil {
		return nil, wrapError(KindUnsupportedChannel, "Invalid verification method!", err)
	}

	existing, err := s.store.FindVerified(ctx, in.Email, phone)
	if err != nil {
		return nil, internalError(err)
	}
	if existing != nil {
		return nil, newError(KindAlreadyRegistered, "Email or phone already registered!")
	}

	now := s.now().UTC()
	attempts, err := s.store.ListUnverified(ctx, in.Email, phone, now.Add(-s.cfg.RetryWindow))
	if err != nil {
		return nil, internalError(err)
	}
	if len(attempts) >= s.cfg.MaxRegistrationAttempts {
		s.logger.WithFields(logrus.Fields{
			"attempts": len(attempts),
		}).Warn("Registration throttled")
		return nil, newError(KindTooManyAttempts, fmt.Sprintf("Please attempt registering after %s!", humanizeWindow(s.cfg.RetryWindow)))
	}

	passwordHash, err := hashPassword(in.Password, s.passwordCost)
	if err != nil {
		return nil, internalError(err)
	}

	code, err := generateNumericCode(s.cfg.CodeLength)
	if err != nil {
		return nil, internalError(fmt.Errorf("failed to generate verification code: %w", err))
	}
	expires := now.Add(s.cfg.CodeTTL)

	id, err := uuid.NewV7()
	if err != nil {
		return nil, internalError(err)
	}

	account := &models.Account{
		ID:                     id.String(),
		Name:                   in.Name,
		Email:                  in.Email,
		Phone:                  phone,
		PasswordHash:           passwordHash,
		Verified:               false,
		VerificationCode:       &code,
		VerificationCodeExpire: &expires,
		CreatedAt:              now,
	}
	if err := s.store.Create(ctx, account); err != nil {
		return nil, internalError(err)
	}

	log := s.logger.WithFields(logrus.Fields{
		"account_id": account.ID,
		"channel":    channel,
	})

	if channel == notify.ChannelPhone {
		if err := s.notifier.SendVerificationCode(ctx, channel, account.Email, account.Phone, code); err != nil {
			log.WithError(err).Error("Failed to deliver verification call")
			return nil, wrapError(KindDeliveryFailed, "Failed to place verification call!", err)
		}
		log.Info("Account registered")
		return &RegisterResult{Message: "OTP sent via voice call!"}, nil
	}

	s.dispatches.Add(1)
	go func() {
		defer s.dispatches.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emailDispatchTimeout)
		defer cancel()
		if err := s.notifier.SendVerificationCode(sendCtx, channel, account.Email, account.Phone, code); err != nil {
			log.WithError(err).Error("Failed to deliver verification email")
		}
	}()

	log.Info("Account registered")
	return &RegisterResult{Message: "Verification email sent successfully!"}, nil
}

// VerifyOTP verifies the newest pending registration for the email or phone,
// discarding older duplicates, and starts a session.
func (s *AccountService) VerifyOTP(ctx context.Context, email, phone, code string) (*models.Session, error) {
	normalizedPhone, err := s.phones.Normalize(phone)
	if err != nil {
		return nil, wrapError(KindInvalidInput, "Invalid phone number!", err)
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, newError(KindInvalidInput, "OTP is required!")
	}

	pending, err := s.store.ListUnverified(ctx, normalizeEmail(email), normalizedPhone, time.Time{})
	if err != nil {
		return nil, internalError(err)
	}
	if len(pending) == 0 {
		return nil, newError(KindNotFound, "User not found!")
	}

	account := pending[0]
	for _, dup := range pending[1:] {
		if err := s.store.DeleteUnverified(ctx, dup.ID); err != nil && !errors.Is(err, repository.ErrConditionFailed) {
			return nil, internalError(err)
		}
	}
	if len(pending) > 1 {
		s.logger.WithFields(logrus.Fields{
			"account_id": account.ID,
			"removed":    len(pending) - 1,
		}).Info("Collapsed duplicate registrations")
	}

	if !account.HasPendingCode() || !codesEqual(*account.VerificationCode, code) {
		return nil, newError(KindInvalidCode, "Invalid OTP!")
	}

	if s.now().After(*account.VerificationCodeExpire) {
		return nil, newError(KindCodeExpired, "OTP expired!")
	}

	// Another pending registration for the same email or phone may have been
	// verified first.
	owner, err := s.store.FindVerified(ctx, account.Email, account.Phone)
	if err != nil {
		return nil, internalError(err)
	}
	if owner != nil && owner.ID == account.ID {
		return nil, newError(KindNotFound, "User not found!")
	}
	if owner != nil {
		s.logger.WithFields(logrus.Fields{
			"account_id": account.ID,
			"owner_id":   owner.ID,
		}).Warn("Verification blocked by an existing verified account")
		return nil, newError(KindAlreadyRegistered, "Email or phone already registered!")
	}

	if err := s.store.MarkVerified(ctx, account.ID, code); err != nil {
		if errors.Is(err, repository.ErrConditionFailed) {
			return nil, newError(KindNotFound, "User not found!")
		}
		return nil, internalError(err)
	}

	account.Verified = true
	account.VerificationCode = nil
	account.VerificationCodeExpire = nil

	s.logger.WithField("account_id", account.ID).Info("Account verified")
	return s.startSession(&account)
}

// Login authenticates a verified account. Unknown emails and wrong passwords
// produce the same error.
func (s *AccountService) Login(ctx context.Context, email, password string) (*models.Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, newError(KindInvalidInput, "Email and password are required!")
	}

	account, err := s.store.FindVerified(ctx, email, "")
	if err != nil {
		return nil, internalError(err)
	}

	if account == nil {
		passwordMatches(s.dummyHash, password)
		return nil, newError(KindInvalidCredentials, invalidCredentialsMessage)
	}

	if !passwordMatches(account.PasswordHash, password) {
		return nil, newError(KindInvalidCredentials, invalidCredentialsMessage)
	}

	return s.startSession(account)
}

// Logout has no server-side state; the caller drops the session token.
func (s *AccountService) Logout() string {
	return "Successfully logged out!"
}

// CurrentAccount resolves a session token to its verified account.
func (s *AccountService) CurrentAccount(ctx context.Context, token string) (*models.Account, error) {
	if token == "" {
		return nil, newError(KindUnauthenticated, "User is not authenticated!")
	}

	accountID, err := s.signer.Verify(token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil, wrapError(KindUnauthenticated, "Token is expired!", err)
		}
		return nil, wrapError(KindUnauthenticated, "Invalid Web Token.", err)
	}

	account, err := s.store.GetByID(ctx, accountID)
	if err != nil {
		return nil, internalError(err)
	}
	if account == nil || !account.Verified {
		return nil, newError(KindUnauthenticated, "User is not authenticated!")
	}

	return account, nil
}

// RequestPasswordReset mails a reset link to a verified account. If the mail
// cannot be sent the stored token is cleared again.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return "", newError(KindInvalidInput, "Email is required!")
	}

	account, err := s.store.FindVerified(ctx, email, "")
	if err != nil {
		return "", internalError(err)
	}
	if account == nil {
		return "", newError(KindNotFound, "User not found.")
	}

	raw, hash, err := newResetToken()
	if err != nil {
		return "", internalError(err)
	}

	if err := s.store.SetResetToken(ctx, account.ID, hash, s.now().Add(s.cfg.ResetTokenTTL)); err != nil {
		return "", internalError(err)
	}

	resetURL := fmt.Sprintf("%s/password/reset/%s", strings.TrimRight(s.cfg.FrontendURL, "/"), raw)
	if err := s.notifier.SendPasswordReset(ctx, account.Email, resetURL); err != nil {
		log := s.logger.WithError(err).WithField("account_id", account.ID)
		log.Error("Failed to deliver password reset email")

		clearErr := s.store.ClearResetToken(context.WithoutCancel(ctx), account.ID, hash)
		if clearErr != nil && !errors.Is(clearErr, repository.ErrConditionFailed) {
			log.WithField("rollback_error", clearErr.Error()).Error("Failed to roll back reset token")
		}
		return "", wrapError(KindDeliveryFailed, "Cannot send reset password token.", err)
	}

	return fmt.Sprintf("Email sent to %s successfully.", account.Email), nil
}

// ConfirmPasswordReset consumes a reset token and replaces the password.
func (s *AccountService) ConfirmPasswordReset(ctx context.Context, rawToken, password, confirmPassword string) (*models.Session, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, newError(KindInvalidOrExpiredToken, invalidResetTokenMessage)
	}

	now := s.now()
	hash := hashResetToken(rawToken)

	account, err := s.store.FindByResetToken(ctx, hash, now)
	if err != nil {
		return nil, internalError(err)
	}
	if account == nil {
		return nil, newError(KindInvalidOrExpiredToken, invalidResetTokenMessage)
	}

	if password != confirmPassword {
		return nil, newError(KindPasswordMismatch, "Password & confirm password do not match.")
	}
	if password == "" {
		return nil, newError(KindInvalidInput, "Password is required!")
	}
	if len(password) > maxPasswordBytes {
		return nil, newError(KindInvalidInput, "Password is too long!")
	}

	passwordHash, err := hashPassword(password, s.passwordCost)
	if err != nil {
		return nil, internalError(err)
	}

	if err := s.store.ResetPassword(ctx, account.ID, hash, passwordHash, now); err != nil {
		if errors.Is(err, repository.ErrConditionFailed) {
			return nil, newError(KindInvalidOrExpiredToken, invalidResetTokenMessage)
		}
		return nil, internalError(err)
	}

	account.PasswordHash = passwordHash
	account.ResetPasswordToken = nil
	account.ResetPasswordExpire = nil

	s.logger.WithField("account_id", account.ID).Info("Password reset")
	return s.startSession(account)
}

func (s *AccountService) startSession(account *models.Account) (*models.Session, error) {
	token, expiresAt, err := s.signer.Issue(account.ID)
	if err != nil {
		return nil, internalError(err)
	}

	return &models.Session{
		Token:     token,
		ExpiresAt: expiresAt,
		Account:   account,
	}, nil
}

func humanizeWindow(d time.Duration) string {
	if d == time.Hour {
		return "1 hour"
	}
	if d%time.Hour == 0 {
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	}
	return fmt.Sprintf("%d minutes", int(d/time.Minute))
}
