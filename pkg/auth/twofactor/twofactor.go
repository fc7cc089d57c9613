// Package twofactor implements the TOTP verification flow that gates access
// after password authentication.
//
// A Verifier walks the state machine
//
//	loading → {setup, challenge} → verified
//
// Begin looks up the user's profile: no stored secret means first-time
// enrollment (setup, with a scannable provisioning code), a stored secret
// means a plain challenge. Submit checks a 6-digit code against the secret
// with standard time-window TOTP validation. A valid code in setup persists
// the secret to the profile before verifying; a persistence failure blocks
// verification and is returned to the caller. An invalid code flags the
// input as errored and auto-clears the flag after 500ms without leaving the
// current state.
package twofactor

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"sync"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"

	"github.com/knotes-app/knotes/pkg/models"
)

// State is the verifier's position in the flow.
type State string

const (
	StateLoading   State = "loading"
	StateSetup     State = "setup"
	StateChallenge State = "challenge"
	StateVerified  State = "verified"
)

// errorClearDelay is how long the input-errored flag stays set after a bad
// code.
const errorClearDelay = 500 * time.Millisecond

// ProfileStore is the slice of the document store the verifier needs.
type ProfileStore interface {
	GetUser(ctx context.Context, id models.UserID) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
}

// Verifier drives the two-factor flow for one user.
type Verifier struct {
	store  ProfileStore
	log    zerolog.Logger
	issuer string
	userID models.UserID

	mu         sync.Mutex
	state      State
	secret     string
	key        *otp.Key // set only during enrollment
	inputError bool
	errTimer   *time.Timer

	// validate is swappable in tests.
	validate func(code, secret string) bool
}

// NewVerifier creates a verifier in the loading state. issuer is the label
// shown by authenticator apps next to the account.
func NewVerifier(store ProfileStore, log zerolog.Logger, issuer string, userID models.UserID) *Verifier {
	return &Verifier{
		store:    store,
		log:      log.With().Str("component", "twofactor").Stringer("user", userID).Logger(),
		issuer:   issuer,
		userID:   userID,
		state:    StateLoading,
		validate: totp.Validate,
	}
}

// Begin resolves loading into setup or challenge by checking the profile for
// a stored secret. It is idempotent: calling it again in any later state is
// a no-op.
func (v *Verifier) Begin(ctx context.Context) error {
	v.mu.Lock()
	if v.state != StateLoading {
		v.mu.Unlock()
		return nil
	}
	v.mu.Unlock()

	user, err := v.store.GetUser(ctx, v.userID)
	if err != nil {
		v.log.Error().Err(err).Msg("failed to look up MFA status")
		return err
	}
	if user == nil {
		return fmt.Errorf("unknown user %s", v.userID)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if user.MFASecret != "" {
		v.secret = user.MFASecret
		v.state = StateChallenge
		return nil
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      v.issuer,
		AccountName: user.Email,
	})
	if err != nil {
		return fmt.Errorf("failed to generate TOTP secret: %w", err)
	}
	v.key = key
	v.secret = key.Secret()
	v.state = StateSetup
	return nil
}

// State returns the current state.
func (v *Verifier) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// InputErrored reports the transient bad-code flag. It clears itself 500ms
// after being set.
func (v *Verifier) InputErrored() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.inputError
}

// ProvisioningURI returns the otpauth:// enrollment URI. Only available in
// setup; a challenge never re-displays the secret.
func (v *Verifier) ProvisioningURI() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateSetup || v.key == nil {
		return ""
	}
	return v.key.URL()
}

// QRCode renders the enrollment code as a size×size PNG.
func (v *Verifier) QRCode(size int) ([]byte, error) {
	v.mu.Lock()
	key := v.key
	state := v.state
	v.mu.Unlock()
	if state != StateSetup || key == nil {
		return nil, fmt.Errorf("no enrollment in progress")
	}
	img, err := key.Image(size, size)
	if err != nil {
		return nil, fmt.Errorf("failed to render enrollment code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode enrollment code: %w", err)
	}
	return buf.Bytes(), nil
}

func isSixDigits(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Submit checks a code. It returns whether the flow is now verified. A bad
// code returns (false, nil) and sets the transient input-errored flag; the
// submitted input is considered cleared by the caller. In setup, the secret
// is persisted to the profile before the flow verifies, and a persistence
// failure is returned without verifying.
func (v *Verifier) Submit(ctx context.Context, code string) (bool, error) {
	v.mu.Lock()
	state := v.state
	secret := v.secret
	v.mu.Unlock()

	switch state {
	case StateVerified:
		return true, nil
	case StateSetup, StateChallenge:
	default:
		return false, fmt.Errorf("verification not started")
	}

	if !isSixDigits(code) || !v.validate(code, secret) {
		v.flagInputError()
		return false, nil
	}

	if state == StateSetup {
		if err := v.persistSecret(ctx, secret); err != nil {
			v.log.Error().Err(err).Msg("failed to persist MFA secret")
			return false, err
		}
	}

	v.mu.Lock()
	v.state = StateVerified
	v.key = nil
	v.mu.Unlock()
	return true, nil
}

func (v *Verifier) persistSecret(ctx context.Context, secret string) error {
	user, err := v.store.GetUser(ctx, v.userID)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("unknown user %s", v.userID)
	}
	user.MFASecret = secret
	return v.store.UpdateUser(ctx, user)
}

func (v *Verifier) flagInputError() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.inputError = true
	if v.errTimer != nil {
		v.errTimer.Stop()
	}
	v.errTimer = time.AfterFunc(errorClearDelay, func() {
		v.mu.Lock()
		v.inputError = false
		v.mu.Unlock()
	})
}
