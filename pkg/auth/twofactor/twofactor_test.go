package twofactor

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knotes-app/knotes/pkg/models"
	"github.com/knotes-app/knotes/pkg/store/memory"
)

func newEnrolledUser(t *testing.T, st *memory.Store, secret string) *models.User {
	t.Helper()
	user := &models.User{Email: "alice@example.com", MFASecret: secret}
	require.NoError(t, st.CreateUser(context.Background(), user))
	return user
}

func TestBeginEntersSetupWithoutSecret(t *testing.T) {
	st := memory.New()
	t.Cleanup(func() { st.Close() })
	user := newEnrolledUser(t, st, "")

	v := NewVerifier(st, zerolog.Nop(), "KNotes", user.ID)
	assert.Equal(t, StateLoading, v.State())

	require.NoError(t, v.Begin(context.Background()))
	assert.Equal(t, StateSetup, v.State())

	uri := v.ProvisioningURI()
	assert.True(t, strings.HasPrefix(uri, "otpauth://totp/"))
	assert.Contains(t, uri, "KNotes")
	assert.Contains(t, uri, "alice@example.com")

	// Begin is idempotent: a second call does not regenerate the secret.
	before := uri
	require.NoError(t, v.Begin(context.Background()))
	assert.Equal(t, before, v.ProvisioningURI())
}

func TestBeginEntersChallengeWithSecret(t *testing.T) {
	st := memory.New()
	t.Cleanup(func() { st.Close() })
	user := newEnrolledUser(t, st, "JBSWY3DPEHPK3PXP")

	v := NewVerifier(st, zerolog.Nop(), "KNotes", user.ID)
	require.NoError(t, v.Begin(context.Background()))
	assert.Equal(t, StateChallenge, v.State())
	assert.Empty(t, v.ProvisioningURI(), "a challenge never re-displays the secret")

	_, err := v.QRCode(256)
	assert.Error(t, err)
}

func TestBeginUnknownUser(t *testing.T) {
	st := memory.New()
	t.Cleanup(func() { st.Close() })

	v := NewVerifier(st, zerolog.Nop(), "KNotes", models.NewUserID())
	assert.Error(t, v.Begin(context.Background()))
}

func TestQRCodeIsPNG(t *testing.T) {
	st := memory.New()
	t.Cleanup(func() { st.Close() })
	user := newEnrolledUser(t, st, "")

	v := NewVerifier(st, zerolog.Nop(), "KNotes", user.ID)
	require.NoError(t, v.Begin(context.Background()))

	data, err := v.QRCode(256)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())
}

func TestSetupPersistsSecretOnFirstValidCode(t *testing.T) {
	st := memory.New()
	t.Cleanup(func() { st.Close() })
	user := newEnrolledUser(t, st, "")
	ctx := context.Background()

	v := NewVerifier(st, zerolog.Nop(), "KNotes", user.ID)
	require.NoError(t, v.Begin(ctx))

	code, err := totp.GenerateCode(v.secret, time.Now())
	require.NoError(t, err)

	ok, err := v.Submit(ctx, code)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StateVerified, v.State())

	stored, err := st.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.MFASecret, "the secret survives enrollment")

	// The next session challenges against the stored secret.
	v2 := NewVerifier(st, zerolog.Nop(), "KNotes", user.ID)
	require.NoError(t, v2.Begin(ctx))
	assert.Equal(t, StateChallenge, v2.State())
}

func TestChallengeAcceptsValidCode(t *testing.T) {
	st := memory.New()
	t.Cleanup(func() { st.Close() })
	user := newEnrolledUser(t, st, "JBSWY3DPEHPK3PXP")
	ctx := context.Background()

	v := NewVerifier(st, zerolog.Nop(), "KNotes", user.ID)
	require.NoError(t, v.Begin(ctx))

	code, err := totp.GenerateCode("JBSWY3DPEHPK3PXP", time.Now())
	require.NoError(t, err)

	ok, err := v.Submit(ctx, code)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StateVerified, v.State())

	// Submitting after verification stays verified.
	ok, err = v.Submit(ctx, "000000")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBadCodeFlagsInputAndAutoClears(t *testing.T) {
	st := memory.New()
	t.Cleanup(func() { st.Close() })
	user := newEnrolledUser(t, st, "JBSWY3DPEHPK3PXP")
	ctx := context.Background()

	v := NewVerifier(st, zerolog.Nop(), "KNotes", user.ID)
	require.NoError(t, v.Begin(ctx))

	ok, err := v.Submit(ctx, "000000")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, v.InputErrored())
	assert.Equal(t, StateChallenge, v.State(), "a bad code does not change state")

	assert.Eventually(t, func() bool { return !v.InputErrored() },
		2*errorClearDelay, 20*time.Millisecond, "the flag clears itself")
}

func TestMalformedCodeRejectedWithoutValidation(t *testing.T) {
	st := memory.New()
	t.Cleanup(func() { st.Close() })
	user := newEnrolledUser(t, st, "JBSWY3DPEHPK3PXP")
	ctx := context.Background()

	v := NewVerifier(st, zerolog.Nop(), "KNotes", user.ID)
	require.NoError(t, v.Begin(ctx))
	v.validate = func(code, secret string) bool {
		t.Fatal("malformed codes must not reach TOTP validation")
		return false
	}

	for _, code := range []string{"", "12345", "1234567", "12345a"} {
		ok, err := v.Submit(ctx, code)
		require.NoError(t, err)
		assert.False(t, ok, "code %q", code)
	}
}

func TestSubmitBeforeBegin(t *testing.T) {
	st := memory.New()
	t.Cleanup(func() { st.Close() })
	user := newEnrolledUser(t, st, "")

	v := NewVerifier(st, zerolog.Nop(), "KNotes", user.ID)
	_, err := v.Submit(context.Background(), "123456")
	assert.Error(t, err)
}

// failingStore wraps a ProfileStore and fails every update.
type failingStore struct {
	ProfileStore
}

func (f *failingStore) UpdateUser(ctx context.Context, user *models.User) error {
	return errors.New("write refused")
}

func TestPersistenceFailureBlocksVerification(t *testing.T) {
	st := memory.New()
	t.Cleanup(func() { st.Close() })
	user := newEnrolledUser(t, st, "")
	ctx := context.Background()

	v := NewVerifier(&failingStore{ProfileStore: st}, zerolog.Nop(), "KNotes", user.ID)
	require.NoError(t, v.Begin(ctx))
	require.Equal(t, StateSetup, v.State())

	code, err := totp.GenerateCode(v.secret, time.Now())
	require.NoError(t, err)

	ok, err := v.Submit(ctx, code)
	assert.Error(t, err)
	assert.False(t, ok)
	assert.NotEqual(t, StateVerified, v.State(), "an unsaved secret must not verify")

	stored, getErr := st.GetUser(ctx, user.ID)
	require.NoError(t, getErr)
	assert.Empty(t, stored.MFASecret)
}
