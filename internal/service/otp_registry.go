package service

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/credvault/credvault/internal/common"
	"github.com/credvault/credvault/internal/config"
	"github.com/credvault/credvault/internal/models"
)

// otpEntry is comparable so sync.Map.CompareAndDelete can consume exactly the
// entry a verify observed, never one a concurrent reissue just stored.
type otpEntry struct {
	code      string
	expiresAt time.Time
}

// OTPRegistry holds transient single-use codes keyed by email. At most one
// live entry exists per identity: issuing again overwrites the previous code.
// Expiry is checked lazily at verify time; there is no background sweeper.
//
// The registry is owned by whoever constructs it and passed in explicitly,
// never reached as package-level state.
type OTPRegistry struct {
	codes  sync.Map
	length int
	expiry time.Duration
	now    func() time.Time
}

func NewOTPRegistry(cfg *config.OTPConfig) *OTPRegistry {
	return &OTPRegistry{
		length: cfg.Length,
		expiry: cfg.Expiry,
		now:    time.Now,
	}
}

// Issue generates a uniform-random numeric code for the identity and stores
// it with a fresh expiry, replacing any prior live entry. The latest request
// always wins.
func (r *OTPRegistry) Issue(identity string) (string, error) {
	code, err := r.generateCode()
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}

	r.codes.Store(models.NormalizeEmail(identity), otpEntry{
		code:      code,
		expiresAt: r.now().Add(r.expiry),
	})

	return code, nil
}

// Verify checks the supplied code against the live entry for the identity.
// A match consumes the entry, so exactly one successful verification is
// possible per issued code. A mismatch retains the entry for retry until
// expiry. An expired entry is evicted and reported as ErrOTPExpired even when
// the code would have matched.
func (r *OTPRegistry) Verify(identity, suppliedCode string) error {
	key := models.NormalizeEmail(identity)

	value, ok := r.codes.Load(key)
	if !ok {
		return common.ErrNotFound
	}
	entry := value.(otpEntry)

	if r.now().After(entry.expiresAt) {
		r.codes.CompareAndDelete(key, entry)
		return common.ErrOTPExpired
	}

	if subtle.ConstantTimeCompare([]byte(entry.code), []byte(suppliedCode)) != 1 {
		return common.ErrOTPMismatch
	}

	// Per-key compare-and-delete: if a concurrent issue replaced the entry
	// between the load and here, this code is stale and must not verify.
	if !r.codes.CompareAndDelete(key, entry) {
		return common.ErrNotFound
	}

	return nil
}

func (r *OTPRegistry) generateCode() (string, error) {
	var b strings.Builder
	for i := 0; i < r.length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteString(n.String())
	}
	return b.String(), nil
}
