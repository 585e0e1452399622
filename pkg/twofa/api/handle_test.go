package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandnova/nova2fa/pkg/emailotp"
	"github.com/brandnova/nova2fa/pkg/encryption"
	"github.com/brandnova/nova2fa/pkg/method"
	"github.com/brandnova/nova2fa/pkg/notification"
	"github.com/brandnova/nova2fa/pkg/session"
	"github.com/brandnova/nova2fa/pkg/twofa"
	"github.com/brandnova/nova2fa/pkg/user"
)

type fixture struct {
	handler  http.Handler
	accounts *twofa.Service
	store    session.Store
	mock     *notification.MockNotifier
	user     user.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	accountRepo, err := twofa.NewFileRepository(t.TempDir())
	require.NoError(t, err)
	accounts := twofa.NewService(accountRepo)

	otpRepo, err := emailotp.NewFileRepository(t.TempDir())
	require.NoError(t, err)

	cipher, err := encryption.NewService(encryption.KeyConfig{TwoFactorSecret: "test-secret"})
	require.NoError(t, err)

	manager, err := notification.NewNotificationManager(
		notification.WithOTPCodeTemplate("Your verification code"),
	)
	require.NoError(t, err)
	mock := &notification.MockNotifier{}
	manager.RegisterNotifier(notification.EmailSystem, mock)

	registry := method.NewRegistry([]string{method.MethodTOTP, method.MethodEmail, method.MethodBackup})
	registry.Register(method.NewTOTPMethod(accounts, cipher, "Nova2FA"))
	registry.Register(method.NewEmailOTPMethod(otpRepo, manager))
	backup := method.NewBackupCodesMethod(accounts)
	registry.Register(backup)

	return &fixture{
		handler:  Routes(NewHandle(accounts, registry, backup)),
		accounts: accounts,
		store:    session.NewMemoryStore(),
		mock:     mock,
		user:     user.User{ID: uuid.New(), Email: "alice@example.com"},
	}
}

const testSessionID = "test-session"

func (f *fixture) do(t *testing.T, httpMethod, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(httpMethod, path, reader)
	ctx := user.NewContext(req.Context(), f.user)
	req = req.WithContext(withSession(ctx, testSessionID, f.store))

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

// withSession attaches a session the way session.Middleware would.
func withSession(ctx context.Context, id string, store session.Store) context.Context {
	inner := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	inner.AddCookie(&http.Cookie{Name: "twofa_session", Value: id})

	var out context.Context
	session.Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out = r.Context()
	})).ServeHTTP(httptest.NewRecorder(), inner)
	return out
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

// enrollTOTP walks the full setup flow and returns the TOTP secret and
// the issued backup codes.
func enrollTOTP(t *testing.T, f *fixture) (string, []string) {
	t.Helper()

	rec := f.do(t, http.MethodPost, "/setup", SetupRequest{Method: method.MethodTOTP})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	setup := decode[SetupResponse](t, rec)
	require.NotEmpty(t, setup.Secret)

	code, err := totp.GenerateCode(setup.Secret, time.Now().UTC())
	require.NoError(t, err)

	rec = f.do(t, http.MethodPost, "/setup/confirm", ConfirmRequest{Code: code})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	confirm := decode[ConfirmResponse](t, rec)
	require.True(t, confirm.Enabled)
	require.Len(t, confirm.BackupCodes, method.DefaultBackupCodeCount)

	return setup.Secret, confirm.BackupCodes
}

func TestSettings(t *testing.T) {
	t.Run("before enrollment", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodGet, "/settings", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[SettingsResponse](t, rec)
		assert.False(t, resp.Enabled)
		assert.Empty(t, resp.Method)
		assert.Equal(t, 0, resp.AvailableBackupCodes)
		// Backup codes are a fallback, never a selectable method.
		require.Len(t, resp.Methods, 2)
		assert.Equal(t, method.MethodTOTP, resp.Methods[0].Code)
		assert.Equal(t, method.MethodEmail, resp.Methods[1].Code)
		assert.True(t, resp.Methods[1].Configured, "email is configured by having an address")
	})

	t.Run("after enrollment", func(t *testing.T) {
		f := newFixture(t)
		enrollTOTP(t, f)

		rec := f.do(t, http.MethodGet, "/settings", nil)
		resp := decode[SettingsResponse](t, rec)
		assert.True(t, resp.Enabled)
		assert.Equal(t, method.MethodTOTP, resp.Method)
		assert.Equal(t, "Authenticator App", resp.MethodDisplayName)
		assert.Equal(t, method.DefaultBackupCodeCount, resp.AvailableBackupCodes)
		assert.Empty(t, resp.Warning)
	})
}

func TestSetupFlow(t *testing.T) {
	t.Run("totp enrollment end to end", func(t *testing.T) {
		f := newFixture(t)
		enrollTOTP(t, f)

		account, err := f.accounts.GetAccount(context.Background(), f.user.ID)
		require.NoError(t, err)
		assert.True(t, account.Enabled)
		assert.Equal(t, method.MethodTOTP, account.Method)
		assert.NotEmpty(t, account.TOTPSecretEncrypted)

		// Enrollment counts as a verification for this session.
		verifiedAt, err := f.store.Get(context.Background(), testSessionID, session.KeyVerifiedAt)
		require.NoError(t, err)
		assert.NotEmpty(t, verifiedAt)
	})

	t.Run("email enrollment end to end", func(t *testing.T) {
		f := newFixture(t)

		rec := f.do(t, http.MethodPost, "/setup", SetupRequest{Method: method.MethodEmail})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		setup := decode[SetupResponse](t, rec)
		assert.True(t, setup.OTPSent)
		require.Len(t, f.mock.SentNotifications, 1)

		code := f.mock.SentNotifications[0].Data["Code"]
		rec = f.do(t, http.MethodPost, "/setup/confirm", ConfirmRequest{Code: code})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		account, err := f.accounts.GetAccount(context.Background(), f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, method.MethodEmail, account.Method)
	})

	t.Run("backup rejected as primary", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/setup", SetupRequest{Method: method.MethodBackup})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown method rejected", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/setup", SetupRequest{Method: "sms"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("re-enabling the active method rejected", func(t *testing.T) {
		f := newFixture(t)
		enrollTOTP(t, f)
		rec := f.do(t, http.MethodPost, "/setup", SetupRequest{Method: method.MethodTOTP})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong confirmation code keeps setup pending", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/setup", SetupRequest{Method: method.MethodTOTP})
		require.Equal(t, http.StatusOK, rec.Code)
		setup := decode[SetupResponse](t, rec)

		rec = f.do(t, http.MethodPost, "/setup/confirm", ConfirmRequest{Code: "000000"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		// A correct code still completes the pending setup.
		code, err := totp.GenerateCode(setup.Secret, time.Now().UTC())
		require.NoError(t, err)
		rec = f.do(t, http.MethodPost, "/setup/confirm", ConfirmRequest{Code: code})
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("confirm without pending setup is gone", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/setup/confirm", ConfirmRequest{Code: "123456"})
		assert.Equal(t, http.StatusGone, rec.Code)
	})
}

func TestVerifyFlow(t *testing.T) {
	t.Run("accepts current passcode and pops next URL", func(t *testing.T) {
		f := newFixture(t)
		secret, _ := enrollTOTP(t, f)
		ctx := context.Background()
		require.NoError(t, f.store.Put(ctx, testSessionID, session.KeyNextURL, "/dashboard"))

		code, err := totp.GenerateCode(secret, time.Now().UTC())
		require.NoError(t, err)

		rec := f.do(t, http.MethodPost, "/verify", VerifyRequest{Code: code})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[VerifyResponse](t, rec)
		assert.True(t, resp.Verified)
		assert.Equal(t, "/dashboard", resp.Next)

		next, err := f.store.Get(ctx, testSessionID, session.KeyNextURL)
		require.NoError(t, err)
		assert.Empty(t, next, "next URL is single use")
	})

	t.Run("wrong code feeds the lockout counter", func(t *testing.T) {
		f := newFixture(t)
		enrollTOTP(t, f)

		for i := 0; i < twofa.DefaultMaxAttempts-1; i++ {
			rec := f.do(t, http.MethodPost, "/verify", VerifyRequest{Code: "000000"})
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		}

		// The locking attempt itself reports the lockout.
		rec := f.do(t, http.MethodPost, "/verify", VerifyRequest{Code: "000000"})
		assert.Equal(t, http.StatusLocked, rec.Code)
		resp := decode[ErrorResponse](t, rec)
		assert.Greater(t, resp.RetryAfterSeconds, 0)

		// And subsequent attempts short-circuit.
		rec = f.do(t, http.MethodPost, "/verify", VerifyRequest{Code: "000000"})
		assert.Equal(t, http.StatusLocked, rec.Code)
	})

	t.Run("backup fallback verifies and warns when supply runs low", func(t *testing.T) {
		f := newFixture(t)
		_, codes := enrollTOTP(t, f)

		// Burn codes down to two remaining.
		for i := 0; i < method.DefaultBackupCodeCount-2; i++ {
			rec := f.do(t, http.MethodPost, "/verify", VerifyRequest{Code: codes[i], Method: method.MethodBackup})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		}

		rec := f.do(t, http.MethodPost, "/verify", VerifyRequest{Code: codes[6], Method: method.MethodBackup})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[VerifyResponse](t, rec)
		assert.True(t, resp.Verified)
		assert.Contains(t, resp.Warning, "Only 1 backup codes left")

		rec = f.do(t, http.MethodPost, "/verify", VerifyRequest{Code: codes[7], Method: method.MethodBackup})
		resp = decode[VerifyResponse](t, rec)
		assert.Contains(t, resp.Warning, "no backup codes left")
	})

	t.Run("not enabled", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/verify", VerifyRequest{Code: "123456"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSendFlow(t *testing.T) {
	t.Run("resend during verification", func(t *testing.T) {
		f := newFixture(t)

		// Enroll with email so the active method needs delivery.
		rec := f.do(t, http.MethodPost, "/setup", SetupRequest{Method: method.MethodEmail})
		require.Equal(t, http.StatusOK, rec.Code)
		code := f.mock.SentNotifications[0].Data["Code"]
		rec = f.do(t, http.MethodPost, "/setup/confirm", ConfirmRequest{Code: code})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = f.do(t, http.MethodPost, "/send", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[SendResponse](t, rec)
		assert.True(t, resp.Sent)
		assert.Len(t, f.mock.SentNotifications, 2)

		sent, err := f.store.Get(context.Background(), testSessionID, session.KeyEmailOTPSent)
		require.NoError(t, err)
		assert.Equal(t, "true", sent)
	})

	t.Run("send without enrollment or setup", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/send", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDisable(t *testing.T) {
	f := newFixture(t)
	enrollTOTP(t, f)

	rec := f.do(t, http.MethodPost, "/disable", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	account, err := f.accounts.GetAccount(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.False(t, account.Enabled)
	assert.Empty(t, account.TOTPSecretEncrypted)
	assert.Empty(t, account.BackupCodeHashes)

	verifiedAt, err := f.store.Get(context.Background(), testSessionID, session.KeyVerifiedAt)
	require.NoError(t, err)
	assert.Empty(t, verifiedAt, "session verification cleared on disable")
}

func TestBackupCodesEndpoints(t *testing.T) {
	t.Run("one-time display after enrollment", func(t *testing.T) {
		f := newFixture(t)
		_, issued := enrollTOTP(t, f)

		rec := f.do(t, http.MethodGet, "/backup-codes", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[BackupCodesResponse](t, rec)
		assert.Equal(t, method.DefaultBackupCodeCount, resp.AvailableCount)
		assert.Equal(t, issued, resp.Codes)

		// Second read no longer exposes the plaintext.
		rec = f.do(t, http.MethodGet, "/backup-codes", nil)
		resp = decode[BackupCodesResponse](t, rec)
		assert.Empty(t, resp.Codes)
		assert.Equal(t, method.DefaultBackupCodeCount, resp.AvailableCount)
	})

	t.Run("regeneration invalidates old codes", func(t *testing.T) {
		f := newFixture(t)
		_, old := enrollTOTP(t, f)

		rec := f.do(t, http.MethodPost, "/backup-codes/regenerate", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[BackupCodesResponse](t, rec)
		require.Len(t, resp.Codes, method.DefaultBackupCodeCount)
		assert.NotEqual(t, old, resp.Codes)

		rec = f.do(t, http.MethodPost, "/verify", VerifyRequest{Code: old[0], Method: method.MethodBackup})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "old code must not verify")

		rec = f.do(t, http.MethodPost, "/verify", VerifyRequest{Code: resp.Codes[0], Method: method.MethodBackup})
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})
}

func TestChangeMethod(t *testing.T) {
	t.Run("switch to configured method", func(t *testing.T) {
		f := newFixture(t)
		enrollTOTP(t, f)

		// Email is configured by having an address.
		rec := f.do(t, http.MethodPost, "/method", ChangeMethodRequest{Method: method.MethodEmail})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		account, err := f.accounts.GetAccount(context.Background(), f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, method.MethodEmail, account.Method)
	})

	t.Run("no-op switch rejected", func(t *testing.T) {
		f := newFixture(t)
		enrollTOTP(t, f)
		rec := f.do(t, http.MethodPost, "/method", ChangeMethodRequest{Method: method.MethodTOTP})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unconfigured target rejected", func(t *testing.T) {
		f := newFixture(t)

		// Enroll with email; TOTP has no secret stored.
		rec := f.do(t, http.MethodPost, "/setup", SetupRequest{Method: method.MethodEmail})
		require.Equal(t, http.StatusOK, rec.Code)
		code := f.mock.SentNotifications[0].Data["Code"]
		rec = f.do(t, http.MethodPost, "/setup/confirm", ConfirmRequest{Code: code})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = f.do(t, http.MethodPost, "/method", ChangeMethodRequest{Method: method.MethodTOTP})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("backup rejected", func(t *testing.T) {
		f := newFixture(t)
		enrollTOTP(t, f)
		rec := f.do(t, http.MethodPost, "/method", ChangeMethodRequest{Method: method.MethodBackup})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
