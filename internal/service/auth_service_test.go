package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/credvault/credvault/internal/common"
	"github.com/credvault/credvault/internal/config"
	"github.com/credvault/credvault/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeUserStore struct {
	mu      sync.Mutex
	nextID  int64
	byEmail map[string]*models.User

	existsErr error
	createErr error
	updateErr error
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{byEmail: make(map[string]*models.User)}
}

func (f *fakeUserStore) Create(ctx context.Context, user *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	key := models.NormalizeEmail(user.Email)
	if _, ok := f.byEmail[key]; ok {
		return nil, common.ErrDuplicateEmail
	}
	f.nextID++
	user.ID = f.nextID
	user.CreatedBy = fmt.Sprintf("%d", user.ID)
	user.CreatedAt = time.Now()
	stored := *user
	f.byEmail[key] = &stored
	return user, nil
}

func (f *fakeUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.byEmail[models.NormalizeEmail(email)]
	if !ok {
		return nil, common.ErrNotFound
	}
	copy := *user
	return &copy, nil
}

func (f *fakeUserStore) GetByID(ctx context.Context, id int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.byEmail {
		if user.ID == id {
			copy := *user
			return &copy, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f *fakeUserStore) EmailExists(ctx context.Context, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.byEmail[models.NormalizeEmail(email)]
	return ok, nil
}

func (f *fakeUserStore) UpdatePassword(ctx context.Context, email, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	user, ok := f.byEmail[models.NormalizeEmail(email)]
	if !ok {
		return common.ErrNotFound
	}
	user.PasswordHash = passwordHash
	return nil
}

func (f *fakeUserStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byEmail)
}

type fakeNotifier struct {
	mu       sync.Mutex
	err      error
	lastTo   string
	lastBody string
	sends    int
}

func (f *fakeNotifier) Send(ctx context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sends++
	f.lastTo = to
	f.lastBody = body
	return nil
}

// lastCode extracts the OTP from the delivered message body.
func (f *fakeNotifier) lastCode() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.TrimPrefix(f.lastBody, "Your OTP is: ")
}

// --- harness ---

type authFixture struct {
	svc      *AuthService
	store    *fakeUserStore
	notifier *fakeNotifier
	otps     *OTPRegistry
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	store := newFakeUserStore()
	notifier := &fakeNotifier{}
	otps := NewOTPRegistry(&config.OTPConfig{Length: 6, Expiry: time.Minute})
	tokens := newTestJWTService(t, 15*time.Minute)

	svc := NewAuthService(store, NewPasswordService(), tokens, otps, notifier, newTestLogger())
	return &authFixture{svc: svc, store: store, notifier: notifier, otps: otps}
}

func validSignup(email string) SignupRequest {
	return SignupRequest{
		FirstName:   "Alice",
		Email:       email,
		PhoneNumber: "+15550100",
		Password:    "secret1",
	}
}

// --- tests ---

func TestSignup_Success(t *testing.T) {
	fx := newAuthFixture(t)

	outcome := fx.svc.Signup(context.Background(), validSignup("alice@example.com"))
	require.True(t, outcome.OK, outcome.Message)

	user, err := fx.store.GetByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.FirstName)
	assert.NotEqual(t, "secret1", user.PasswordHash, "plaintext must never be stored")
	assert.True(t, NewPasswordService().Verify(user.PasswordHash, "secret1"))
	assert.Equal(t, fmt.Sprintf("%d", user.ID), user.CreatedBy)
}

func TestSignup_DuplicateEmail(t *testing.T) {
	fx := newAuthFixture(t)

	require.True(t, fx.svc.Signup(context.Background(), validSignup("alice@example.com")).OK)

	outcome := fx.svc.Signup(context.Background(), validSignup("alice@example.com"))
	assert.False(t, outcome.OK)
	assert.Equal(t, "Email already exists with another account", outcome.Message)
	assert.Equal(t, 1, fx.store.count(), "a failed duplicate signup must not create a row")
}

func TestSignup_DuplicateEmailIsCaseInsensitive(t *testing.T) {
	fx := newAuthFixture(t)

	require.True(t, fx.svc.Signup(context.Background(), validSignup("alice@example.com")).OK)

	outcome := fx.svc.Signup(context.Background(), validSignup("ALICE@Example.com"))
	assert.False(t, outcome.OK)
	assert.Equal(t, 1, fx.store.count())
}

func TestSignup_Validation(t *testing.T) {
	fx := newAuthFixture(t)

	tests := []struct {
		name   string
		mutate func(*SignupRequest)
	}{
		{"missing first name", func(r *SignupRequest) { r.FirstName = " " }},
		{"malformed email", func(r *SignupRequest) { r.Email = "not-an-email" }},
		{"missing phone", func(r *SignupRequest) { r.PhoneNumber = "" }},
		{"short password", func(r *SignupRequest) { r.Password = "abc" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validSignup("bob@example.com")
			tt.mutate(&req)
			outcome := fx.svc.Signup(context.Background(), req)
			assert.False(t, outcome.OK)
			assert.Equal(t, 0, fx.store.count(), "invalid input must be rejected before the store")
		})
	}
}

func TestSignup_ConcurrentSameEmail(t *testing.T) {
	fx := newAuthFixture(t)

	const attempts = 8
	outcomes := make(chan Outcome, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes <- fx.svc.Signup(context.Background(), validSignup("race@example.com"))
		}()
	}
	wg.Wait()
	close(outcomes)

	successes := 0
	for outcome := range outcomes {
		if outcome.OK {
			successes++
		} else {
			assert.Equal(t, "Email already exists with another account", outcome.Message)
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent signup may win")
	assert.Equal(t, 1, fx.store.count())
}

func TestLogin_UnknownEmail(t *testing.T) {
	fx := newAuthFixture(t)

	outcome := fx.svc.Login(context.Background(), "ghost@example.com", "secret1")
	assert.False(t, outcome.OK)
	assert.Equal(t, "Email does not exist", outcome.Message)
	assert.Empty(t, outcome.Token)
}

func TestLogin_WrongPassword(t *testing.T) {
	fx := newAuthFixture(t)
	require.True(t, fx.svc.Signup(context.Background(), validSignup("alice@example.com")).OK)

	outcome := fx.svc.Login(context.Background(), "alice@example.com", "wrong")
	assert.False(t, outcome.OK)
	assert.Equal(t, "Password incorrect", outcome.Message)
	assert.Empty(t, outcome.Token)
}

func TestLogin_Success(t *testing.T) {
	fx := newAuthFixture(t)
	require.True(t, fx.svc.Signup(context.Background(), validSignup("alice@example.com")).OK)

	outcome := fx.svc.Login(context.Background(), "alice@example.com", "secret1")
	require.True(t, outcome.OK, outcome.Message)
	require.NotEmpty(t, outcome.Token)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), outcome.ExpiresAt, 5*time.Second)

	claims, err := newTestJWTService(t, 15*time.Minute).VerifyToken(outcome.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "1", claims.Subject)
}

func TestSendOTP_UnknownEmail(t *testing.T) {
	fx := newAuthFixture(t)

	outcome := fx.svc.SendOTP(context.Background(), "ghost@example.com")
	assert.False(t, outcome.OK)
	assert.Equal(t, "No such email exists", outcome.Message)
	assert.Equal(t, 0, fx.notifier.sends)
}

func TestSendOTP_DeliversCode(t *testing.T) {
	fx := newAuthFixture(t)
	require.True(t, fx.svc.Signup(context.Background(), validSignup("alice@example.com")).OK)

	outcome := fx.svc.SendOTP(context.Background(), "alice@example.com")
	require.True(t, outcome.OK, outcome.Message)
	assert.Equal(t, "alice@example.com", fx.notifier.lastTo)

	code := fx.notifier.lastCode()
	require.Len(t, code, 6)

	verified := fx.svc.VerifyOTP(context.Background(), "alice@example.com", code)
	assert.True(t, verified.OK, verified.Message)
}

func TestSendOTP_SendFailureIsUserVisible(t *testing.T) {
	fx := newAuthFixture(t)
	require.True(t, fx.svc.Signup(context.Background(), validSignup("alice@example.com")).OK)

	fx.notifier.err = common.ErrTransport

	outcome := fx.svc.SendOTP(context.Background(), "alice@example.com")
	assert.False(t, outcome.OK)
	assert.Equal(t, "Failed to send OTP", outcome.Message)
}

func TestVerifyOTP_Outcomes(t *testing.T) {
	fx := newAuthFixture(t)
	require.True(t, fx.svc.Signup(context.Background(), validSignup("alice@example.com")).OK)

	outcome := fx.svc.VerifyOTP(context.Background(), "alice@example.com", "123456")
	assert.False(t, outcome.OK)
	assert.Equal(t, "No OTP found for this email", outcome.Message)

	require.True(t, fx.svc.SendOTP(context.Background(), "alice@example.com").OK)
	code := fx.notifier.lastCode()

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	outcome = fx.svc.VerifyOTP(context.Background(), "alice@example.com", wrong)
	assert.False(t, outcome.OK)
	assert.Equal(t, "Invalid OTP", outcome.Message)

	outcome = fx.svc.VerifyOTP(context.Background(), "alice@example.com", code)
	assert.True(t, outcome.OK)

	outcome = fx.svc.VerifyOTP(context.Background(), "alice@example.com", code)
	assert.False(t, outcome.OK)
	assert.Equal(t, "No OTP found for this email", outcome.Message)
}

func TestVerifyOTP_Expired(t *testing.T) {
	fx := newAuthFixture(t)
	require.True(t, fx.svc.Signup(context.Background(), validSignup("alice@example.com")).OK)
	require.True(t, fx.svc.SendOTP(context.Background(), "alice@example.com").OK)
	code := fx.notifier.lastCode()

	fx.otps.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	outcome := fx.svc.VerifyOTP(context.Background(), "alice@example.com", code)
	assert.False(t, outcome.OK)
	assert.Equal(t, "OTP expired", outcome.Message)
}

func TestResetPassword(t *testing.T) {
	fx := newAuthFixture(t)
	require.True(t, fx.svc.Signup(context.Background(), validSignup("alice@example.com")).OK)

	outcome := fx.svc.ResetPassword(context.Background(), "alice@example.com", "newsecret")
	require.True(t, outcome.OK, outcome.Message)

	assert.False(t, fx.svc.Login(context.Background(), "alice@example.com", "secret1").OK)
	assert.True(t, fx.svc.Login(context.Background(), "alice@example.com", "newsecret").OK)
}

func TestResetPassword_UnknownEmail(t *testing.T) {
	fx := newAuthFixture(t)

	outcome := fx.svc.ResetPassword(context.Background(), "ghost@example.com", "newsecret")
	assert.False(t, outcome.OK)
	assert.Equal(t, "No user found with this email", outcome.Message)
}

func TestResetPassword_ShortPassword(t *testing.T) {
	fx := newAuthFixture(t)
	require.True(t, fx.svc.Signup(context.Background(), validSignup("alice@example.com")).OK)

	outcome := fx.svc.ResetPassword(context.Background(), "alice@example.com", "abc")
	assert.False(t, outcome.OK)
	assert.True(t, fx.svc.Login(context.Background(), "alice@example.com", "secret1").OK,
		"rejected reset must leave the old password valid")
}

func TestAuthService_StorageFailuresAreContained(t *testing.T) {
	fx := newAuthFixture(t)
	fx.store.existsErr = fmt.Errorf("%w: connection refused", common.ErrStorage)

	outcome := fx.svc.Signup(context.Background(), validSignup("alice@example.com"))
	assert.False(t, outcome.OK)
	assert.NotContains(t, outcome.Message, "connection refused",
		"internal error detail must not leak to the caller")
}

// Full lifecycle: signup, duplicate, bad login, good login, OTP round trip.
func TestAuthService_Scenario(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	require.True(t, fx.svc.Signup(ctx, validSignup("a@x.com")).OK)
	assert.False(t, fx.svc.Signup(ctx, validSignup("a@x.com")).OK)

	assert.False(t, fx.svc.Login(ctx, "a@x.com", "wrong").OK)

	login := fx.svc.Login(ctx, "a@x.com", "secret1")
	require.True(t, login.OK)
	require.NotEmpty(t, login.Token)

	require.True(t, fx.svc.SendOTP(ctx, "a@x.com").OK)
	code := fx.notifier.lastCode()

	assert.True(t, fx.svc.VerifyOTP(ctx, "a@x.com", code).OK)

	second := fx.svc.VerifyOTP(ctx, "a@x.com", code)
	assert.False(t, second.OK)
	assert.Equal(t, "No OTP found for this email", second.Message)
}
