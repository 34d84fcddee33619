package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/credvault/credvault/internal/common"
	"github.com/credvault/credvault/internal/models"
	"github.com/sirupsen/logrus"
)

// UserStore is the credential store consumed by AuthService. It is satisfied
// by repository.UserRepository.
type UserStore interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	UpdatePassword(ctx context.Context, email, passwordHash string) error
}

// Outcome is the uniform result every flow returns: a definite success or
// failure plus a human-readable message. Sub-component failures are translated
// here and never escape as faults.
type Outcome struct {
	OK      bool
	Message string
}

// LoginOutcome additionally carries the session token on success.
type LoginOutcome struct {
	Outcome
	Token     string
	ExpiresAt time.Time
}

type SignupRequest struct {
	FirstName   string
	MiddleName  *string
	LastName    *string
	Email       string
	PhoneNumber string
	DOB         *time.Time
	Password    string
}

// AuthService orchestrates the credential flows. It owns no state of its own;
// the store, the hasher, the token issuer, the OTP registry and the notifier
// each own theirs.
type AuthService struct {
	users     UserStore
	passwords *PasswordService
	tokens    *JWTService
	otps      *OTPRegistry
	notifier  Notifier
	logger    *logrus.Logger
}

func NewAuthService(
	users UserStore,
	passwords *PasswordService,
	tokens *JWTService,
	otps *OTPRegistry,
	notifier Notifier,
	logger *logrus.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		passwords: passwords,
		tokens:    tokens,
		otps:      otps,
		notifier:  notifier,
		logger:    logger,
	}
}

var emailRx = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

const minPasswordLength = 6

func failure(message string) Outcome {
	return Outcome{OK: false, Message: message}
}

func success(message string) Outcome {
	return Outcome{OK: true, Message: message}
}

// Signup creates a new user. The EmailExists call is a fast pre-check only;
// the store's unique constraint is the authority, so a concurrent signup with
// the same email still resolves to exactly one success.
func (s *AuthService) Signup(ctx context.Context, req SignupRequest) Outcome {
	if msg, ok := validateSignup(req); !ok {
		return failure(msg)
	}

	exists, err := s.users.EmailExists(ctx, req.Email)
	if err != nil {
		s.logger.WithError(err).WithField("email", req.Email).Error("Signup: email pre-check failed")
		return failure("Unable to create account, please try again")
	}
	if exists {
		s.logger.WithField("email", req.Email).Warn("Signup: email already exists")
		return failure("Email already exists with another account")
	}

	hash, err := s.passwords.Hash(req.Password)
	if err != nil {
		s.logger.WithError(err).Error("Signup: password hashing failed")
		return failure("Unable to create account, please try again")
	}

	user := &models.User{
		FirstName:    strings.TrimSpace(req.FirstName),
		MiddleName:   req.MiddleName,
		LastName:     req.LastName,
		Email:        models.NormalizeEmail(req.Email),
		PhoneNumber:  strings.TrimSpace(req.PhoneNumber),
		DOB:          req.DOB,
		PasswordHash: hash,
	}

	if _, err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, common.ErrDuplicateEmail) {
			s.logger.WithField("email", req.Email).Warn("Signup: email already exists")
			return failure("Email already exists with another account")
		}
		s.logger.WithError(err).WithField("email", req.Email).Error("Signup: create failed")
		return failure("Unable to create account, please try again")
	}

	s.logger.WithField("email", user.Email).Info("Signup: account created")
	return success("Account created successfully")
}

// Login verifies the credentials and issues a session token. Absent email and
// wrong password are distinguishable outcomes on purpose.
func (s *AuthService) Login(ctx context.Context, email, password string) LoginOutcome {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.logger.WithField("email", email).Warn("Login: email does not exist")
			return LoginOutcome{Outcome: failure("Email does not exist")}
		}
		s.logger.WithError(err).WithField("email", email).Error("Login: lookup failed")
		return LoginOutcome{Outcome: failure("Unable to log in, please try again")}
	}

	if !s.passwords.Verify(user.PasswordHash, password) {
		s.logger.WithField("email", email).Warn("Login: password incorrect")
		return LoginOutcome{Outcome: failure("Password incorrect")}
	}

	token, expiresAt, err := s.tokens.CreateToken(user)
	if err != nil {
		s.logger.WithError(err).WithField("email", email).Error("Login: token issuance failed")
		return LoginOutcome{Outcome: failure("Unable to log in, please try again")}
	}

	s.logger.WithField("email", email).Info("Login: logged in successfully")
	return LoginOutcome{
		Outcome:   success("Logged in successfully"),
		Token:     token,
		ExpiresAt: expiresAt,
	}
}

// SendOTP issues a one-time code for an existing user and delivers it through
// the notifier. A delivery failure is reported to the caller: an issued but
// undelivered code is not actionable.
func (s *AuthService) SendOTP(ctx context.Context, email string) Outcome {
	exists, err := s.users.EmailExists(ctx, email)
	if err != nil {
		s.logger.WithError(err).WithField("email", email).Error("SendOTP: email check failed")
		return failure("Unable to send OTP, please try again")
	}
	if !exists {
		s.logger.WithField("email", email).Warn("SendOTP: no such email")
		return failure("No such email exists")
	}

	code, err := s.otps.Issue(email)
	if err != nil {
		s.logger.WithError(err).Error("SendOTP: code generation failed")
		return failure("Unable to send OTP, please try again")
	}

	body := fmt.Sprintf("Your OTP is: %s", code)
	if err := s.notifier.Send(ctx, email, "Your OTP Code", body); err != nil {
		s.logger.WithError(err).WithField("email", email).Error("SendOTP: delivery failed")
		return failure("Failed to send OTP")
	}

	s.logger.WithField("email", email).Info("SendOTP: OTP sent")
	return success("OTP sent successfully")
}

// VerifyOTP checks the supplied code against the registry.
func (s *AuthService) VerifyOTP(ctx context.Context, email, code string) Outcome {
	switch err := s.otps.Verify(email, code); {
	case err == nil:
		s.logger.WithField("email", email).Info("VerifyOTP: verified")
		return success("OTP verified successfully")
	case errors.Is(err, common.ErrOTPExpired):
		s.logger.WithField("email", email).Warn("VerifyOTP: expired")
		return failure("OTP expired")
	case errors.Is(err, common.ErrOTPMismatch):
		s.logger.WithField("email", email).Warn("VerifyOTP: invalid code")
		return failure("Invalid OTP")
	default:
		s.logger.WithField("email", email).Warn("VerifyOTP: no OTP found")
		return failure("No OTP found for this email")
	}
}

// ResetPassword replaces the user's password with a freshly hashed value.
// The caller is expected to sequence this after a successful VerifyOTP; the
// service itself does not enforce that ordering.
func (s *AuthService) ResetPassword(ctx context.Context, email, newPassword string) Outcome {
	if len(newPassword) < minPasswordLength {
		return failure(fmt.Sprintf("Password must be at least %d characters", minPasswordLength))
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		s.logger.WithError(err).Error("ResetPassword: password hashing failed")
		return failure("Unable to change password, please try again")
	}

	if err := s.users.UpdatePassword(ctx, email, hash); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.logger.WithField("email", email).Warn("ResetPassword: no such user")
			return failure("No user found with this email")
		}
		s.logger.WithError(err).WithField("email", email).Error("ResetPassword: update failed")
		return failure("Unable to change password, please try again")
	}

	s.logger.WithField("email", email).Info("ResetPassword: password changed")
	return success("Password changed successfully")
}

func validateSignup(req SignupRequest) (string, bool) {
	if strings.TrimSpace(req.FirstName) == "" {
		return "First name is required", false
	}
	if !emailRx.MatchString(strings.TrimSpace(req.Email)) {
		return "A valid email is required", false
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		return "Phone number is required", false
	}
	if len(req.Password) < minPasswordLength {
		return fmt.Sprintf("Password must be at least %d characters", minPasswordLength), false
	}
	return "", true
}
