package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/qcom/accounts/internal/config"
	"github.com/qcom/accounts/internal/models"
	"github.com/qcom/accounts/internal/notify"
	"github.com/qcom/accounts/internal/repository"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// memStore mirrors the conditional semantics of the DynamoDB repository.
type memStore struct {
	mu       sync.Mutex
	accounts map[string]models.Account

	markVerifiedErr error
}

func newMemStore() *memStore {
	return &memStore{accounts: make(map[string]models.Account)}
}

func (m *memStore) Create(ctx context.Context, a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a.ID]; ok {
		return repository.ErrConditionFailed
	}
	a.UpdatedAt = a.CreatedAt
	m.accounts[a.ID] = *a
	return nil
}

func (m *memStore) GetByID(ctx context.Context, id string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func matches(a models.Account, email, phone string) bool {
	return (email != "" && a.Email == email) || (phone != "" && a.Phone == phone)
}

func (m *memStore) FindVerified(ctx context.Context, email, phone string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Verified && matches(a, email, phone) {
			return &a, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListUnverified(ctx context.Context, email, phone string, since time.Time) ([]models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Account
	for _, a := range m.accounts {
		if a.Verified || !matches(a, email, phone) {
			continue
		}
		if !since.IsZero() && a.CreatedAt.Before(since) {
			continue
		}
		out = append(out, a)
	}
	repository.SortNewestFirst(out)
	return out, nil
}

func (m *memStore) DeleteUnverified(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok || a.Verified {
		return repository.ErrConditionFailed
	}
	delete(m.accounts, id)
	return nil
}

func (m *memStore) MarkVerified(ctx context.Context, id, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markVerifiedErr != nil {
		return m.markVerifiedErr
	}
	a, ok := m.accounts[id]
	if !ok || a.Verified || a.VerificationCode == nil || *a.VerificationCode != code {
		return repository.ErrConditionFailed
	}
	a.Verified = true
	a.VerificationCode = nil
	a.VerificationCodeExpire = nil
	m.accounts[id] = a
	return nil
}

func (m *memStore) SetResetToken(ctx context.Context, id, hash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return repository.ErrConditionFailed
	}
	a.ResetPasswordToken = &hash
	a.ResetPasswordExpire = &expiresAt
	m.accounts[id] = a
	return nil
}

func (m *memStore) ClearResetToken(ctx context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok || a.ResetPasswordToken == nil || *a.ResetPasswordToken != hash {
		return repository.ErrConditionFailed
	}
	a.ResetPasswordToken = nil
	a.ResetPasswordExpire = nil
	m.accounts[id] = a
	return nil
}

func (m *memStore) FindByResetToken(ctx context.Context, hash string, now time.Time) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.ResetPasswordToken != nil && *a.ResetPasswordToken == hash && a.ResetPasswordExpire.After(now) {
			return &a, nil
		}
	}
	return nil, nil
}

func (m *memStore) ResetPassword(ctx context.Context, id, hash, passwordHash string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok || a.ResetPasswordToken == nil || *a.ResetPasswordToken != hash || !a.ResetPasswordExpire.After(now) {
		return repository.ErrConditionFailed
	}
	a.PasswordHash = passwordHash
	a.ResetPasswordToken = nil
	a.ResetPasswordExpire = nil
	m.accounts[id] = a
	return nil
}

func (m *memStore) DeleteStaleUnverified(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, a := range m.accounts {
		if !a.Verified && a.CreatedAt.Before(before) {
			delete(m.accounts, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) byEmailAndPhone(email, phone string) models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Email == email && a.Phone == phone {
			return a
		}
	}
	return models.Account{}
}

func (m *memStore) all() []models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	return out
}

type fakeNotifier struct {
	mu        sync.Mutex
	codes     map[string]string
	resetURLs map[string]string
	channels  []notify.Channel
	callErr   error
	emailErr  error
	resetErr  error

	// beforeResetFailure runs just before resetErr is returned.
	beforeResetFailure func()
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{codes: map[string]string{}, resetURLs: map[string]string{}}
}

func (n *fakeNotifier) SendVerificationCode(ctx context.Context, channel notify.Channel, email, phone, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels = append(n.channels, channel)
	if channel == notify.ChannelPhone && n.callErr != nil {
		return n.callErr
	}
	if channel == notify.ChannelEmail && n.emailErr != nil {
		return n.emailErr
	}
	n.codes[email] = code
	return nil
}

func (n *fakeNotifier) SendPasswordReset(ctx context.Context, email, resetURL string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.resetErr != nil {
		if n.beforeResetFailure != nil {
			n.beforeResetFailure()
		}
		return n.resetErr
	}
	n.resetURLs[email] = resetURL
	return nil
}

func (n *fakeNotifier) code(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.codes[email]
}

func (n *fakeNotifier) resetURL(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.resetURLs[email]
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testAccountConfig() *config.AccountConfig {
	return &config.AccountConfig{
		CodeLength:              6,
		CodeTTL:                 10 * time.Minute,
		ResetTokenTTL:           15 * time.Minute,
		MaxRegistrationAttempts: 3,
		RetryWindow:             time.Hour,
		UnverifiedRetention:     time.Hour,
		ReaperInterval:          time.Minute,
		PhonePattern:            `^\+923\d{9}$`,
		PhoneRegion:             "PK",
		FrontendURL:             "https://app.example/",
	}
}

type harness struct {
	svc      *AccountService
	store    *memStore
	notifier *fakeNotifier
	clock    *fakeClock
	signer   *JWTService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := newFakeClock()
	store := newMemStore()
	notifier := newFakeNotifier()

	signer, err := NewJWTService(&config.JWTConfig{SecretKey: testSecret, Expiry: time.Hour}, testLogger())
	require.NoError(t, err)
	signer.now = clock.Now

	svc, err := NewAccountService(store, notifier, signer, testAccountConfig(), testLogger())
	require.NoError(t, err)
	svc.now = clock.Now
	require.NoError(t, svc.setPasswordCost(bcrypt.MinCost))

	return &harness{svc: svc, store: store, notifier: notifier, clock: clock, signer: signer}
}

func requireKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, KindOf(err), "unexpected error: %v", err)
}
