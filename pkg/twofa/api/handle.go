package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/brandnova/nova2fa/pkg/method"
	"github.com/brandnova/nova2fa/pkg/session"
	"github.com/brandnova/nova2fa/pkg/twofa"
	"github.com/brandnova/nova2fa/pkg/user"
)

// Handle serves the 2FA settings, setup, and verification endpoints. It
// expects an authenticated user and a session on every request context;
// the surrounding router provides both.
type Handle struct {
	accounts *twofa.Service
	registry *method.Registry
	backup   *method.BackupCodesMethod
}

// NewHandle creates the 2FA API handler.
func NewHandle(accounts *twofa.Service, registry *method.Registry, backup *method.BackupCodesMethod) *Handle {
	return &Handle{
		accounts: accounts,
		registry: registry,
		backup:   backup,
	}
}

// Routes returns the 2FA API as a chi router, meant to be mounted under
// /2fa.
func Routes(h *Handle) http.Handler {
	r := chi.NewRouter()

	r.Get("/settings", h.GetSettings)
	r.Post("/setup", h.PostSetup)
	r.Post("/setup/confirm", h.PostSetupConfirm)
	r.Post("/send", h.PostSend)
	r.Post("/verify", h.PostVerify)
	r.Post("/disable", h.PostDisable)
	r.Get("/backup-codes", h.GetBackupCodes)
	r.Post("/backup-codes/regenerate", h.PostRegenerateBackupCodes)
	r.Post("/method", h.PostChangeMethod)

	return r
}

// GetSettings returns the account summary for the settings page.
// (GET /2fa/settings)
func (h *Handle) GetSettings(w http.ResponseWriter, r *http.Request) {
	u, ok := user.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	account, err := h.accounts.GetOrCreateAccount(r.Context(), u.ID)
	if err != nil {
		slog.Error("Failed to load 2FA account", "userID", u.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to load 2FA settings")
		return
	}

	var methods []MethodInfo
	for _, choice := range h.registry.Choices() {
		if choice.Code == method.MethodBackup {
			continue
		}
		m, _ := h.registry.Get(choice.Code)
		configured, err := m.IsConfigured(r.Context(), u)
		if err != nil {
			slog.Error("Failed to check method configuration",
				"userID", u.ID, "method", choice.Code, "error", err)
			configured = false
		}
		methods = append(methods, MethodInfo{
			Code:        choice.Code,
			DisplayName: choice.DisplayName,
			Configured:  configured,
		})
	}

	resp := SettingsResponse{
		Enabled:              account.Enabled,
		AvailableBackupCodes: account.AvailableBackupCodeCount(),
		Methods:              methods,
	}
	if account.Enabled {
		resp.Method = account.Method
		if m, ok := h.registry.Get(account.Method); ok {
			resp.MethodDisplayName = m.DisplayName()
		}
		resp.Warning = backupCodeWarning(account.AvailableBackupCodeCount())
	}

	render.JSON(w, r, resp)
}

// PostSetup starts enrollment for the chosen method.
// (POST /2fa/setup)
func (h *Handle) PostSetup(w http.ResponseWriter, r *http.Request) {
	u, ok := user.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req SetupRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "unable to parse body")
		return
	}

	if req.Method == method.MethodBackup {
		writeError(w, r, http.StatusBadRequest, "backup codes cannot be the primary method")
		return
	}
	if !h.registry.IsEnabled(req.Method) {
		writeError(w, r, http.StatusBadRequest, "unknown or disabled method")
		return
	}

	account, err := h.accounts.GetOrCreateAccount(r.Context(), u.ID)
	if err != nil {
		slog.Error("Failed to load 2FA account", "userID", u.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to start setup")
		return
	}
	if account.Enabled && account.Method == req.Method {
		writeError(w, r, http.StatusBadRequest, "this method is already enabled")
		return
	}

	m, _ := h.registry.Get(req.Method)
	sess, hasSession := session.FromContext(r.Context())
	if !hasSession {
		writeError(w, r, http.StatusInternalServerError, "no session")
		return
	}

	resp := SetupResponse{Method: req.Method}

	switch req.Method {
	case method.MethodTOTP:
		result, err := m.Setup(r.Context(), u)
		if err != nil {
			slog.Error("TOTP setup failed", "userID", u.ID, "error", err)
			writeError(w, r, http.StatusInternalServerError, "failed to start setup")
			return
		}
		if err := h.accounts.SetTOTPSecret(r.Context(), u.ID, result.EncryptedSecret); err != nil {
			slog.Error("Failed to store provisional TOTP secret", "userID", u.ID, "error", err)
			writeError(w, r, http.StatusInternalServerError, "failed to start setup")
			return
		}
		resp.Secret = result.SecretDisplay
		resp.ProvisioningURI = result.ProvisioningURI
		resp.QRCodePNG = result.QRCodePNG

	case method.MethodEmail:
		sent, err := m.Send(r.Context(), u)
		if err != nil {
			slog.Error("Failed to send setup OTP", "userID", u.ID, "error", err)
			writeError(w, r, http.StatusInternalServerError, "failed to start setup")
			return
		}
		if !sent {
			writeError(w, r, http.StatusBadRequest, "could not send a code to your email address")
			return
		}
		if err := sess.Put(r.Context(), session.KeyEmailOTPSent, "true"); err != nil {
			slog.Error("Failed to flag OTP sent in session", "userID", u.ID, "error", err)
		}
		resp.OTPSent = true
	}

	if err := sess.Put(r.Context(), session.KeySetupMethod, req.Method); err != nil {
		slog.Error("Failed to stash setup method in session", "userID", u.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to start setup")
		return
	}

	render.JSON(w, r, resp)
}

// PostSetupConfirm completes enrollment: the submitted code proves the
// new method works, then the account is enabled and backup codes issued.
// (POST /2fa/setup/confirm)
func (h *Handle) PostSetupConfirm(w http.ResponseWriter, r *http.Request) {
	u, ok := user.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req ConfirmRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "unable to parse body")
		return
	}

	sess, hasSession := session.FromContext(r.Context())
	if !hasSession {
		writeError(w, r, http.StatusInternalServerError, "no session")
		return
	}

	setupMethod, err := sess.Get(r.Context(), session.KeySetupMethod)
	if err != nil {
		slog.Error("Failed to read setup session", "userID", u.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to confirm setup")
		return
	}
	if setupMethod == "" {
		// Setup state expired with the session; the flow restarts.
		writeError(w, r, http.StatusGone, "setup session expired, start again")
		return
	}

	m, ok := h.registry.Get(setupMethod)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "unknown or disabled method")
		return
	}

	verified, err := m.Verify(r.Context(), u, req.Code)
	if err != nil {
		slog.Error("Setup confirmation failed", "userID", u.ID, "method", setupMethod, "error", err)
		if setupMethod == method.MethodTOTP {
			if clearErr := h.accounts.ClearTOTPSecret(r.Context(), u.ID); clearErr != nil {
				slog.Error("Failed to clear provisional TOTP secret", "userID", u.ID, "error", clearErr)
			}
		}
		writeError(w, r, http.StatusInternalServerError, "failed to confirm setup")
		return
	}
	if !verified {
		writeError(w, r, http.StatusBadRequest, "invalid code")
		return
	}

	setupResult, err := h.backup.Setup(r.Context(), u)
	if err != nil {
		slog.Error("Failed to generate backup codes", "userID", u.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to confirm setup")
		return
	}

	if _, err := h.accounts.Enable(r.Context(), u.ID, setupMethod, setupResult.HashedCodes); err != nil {
		slog.Error("Failed to enable 2FA", "userID", u.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to confirm setup")
		return
	}

	h.markSessionVerified(r, sess, u)
	if err := sess.Delete(r.Context(), session.KeySetupMethod); err != nil {
		slog.Error("Failed to clear setup session", "userID", u.ID, "error", err)
	}
	stashBackupCodes(r, sess, setupResult.Codes)

	render.JSON(w, r, ConfirmResponse{
		Enabled:     true,
		Method:      setupMethod,
		BackupCodes: setupResult.Codes,
	})
}

// PostSend dispatches (or re-dispatches) a challenge for the method that
// needs one: the email OTP during setup or verification.
// (POST /2fa/send)
func (h *Handle) PostSend(w http.ResponseWriter, r *http.Request) {
	u, ok := user.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	methodCode, err := h.activeChallengeMethod(r, u)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	m, ok := h.registry.Get(methodCode)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "unknown or disabled method")
		return
	}

	sent, err := m.Send(r.Context(), u)
	if err != nil {
		slog.Error("Failed to send challenge", "userID", u.ID, "method", methodCode, "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to send code")
		return
	}

	if sent {
		if sess, hasSession := session.FromContext(r.Context()); hasSession {
			if err := sess.Put(r.Context(), session.KeyEmailOTPSent, "true"); err != nil {
				slog.Error("Failed to flag OTP sent in session", "userID", u.ID, "error", err)
			}
		}
	}

	render.JSON(w, r, SendResponse{Sent: sent})
}

// PostVerify checks a challenge code against the account's active method,
// or against the backup codes when the request asks for the fallback.
// (POST /2fa/verify)
func (h *Handle) PostVerify(w http.ResponseWriter, r *http.Request) {
	u, ok := user.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req VerifyRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "unable to parse body")
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), u.ID)
	if err != nil {
		if errors.Is(err, twofa.ErrNotFound) {
			writeError(w, r, http.StatusBadRequest, "two-factor authentication is not enabled")
			return
		}
		slog.Error("Failed to load 2FA account", "userID", u.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to verify")
		return
	}
	if !account.Enabled {
		writeError(w, r, http.StatusBadRequest, "two-factor authentication is not enabled")
		return
	}

	if h.writeIfLocked(w, r, u) {
		return
	}

	methodCode := account.Method
	if req.Method == method.MethodBackup {
		methodCode = method.MethodBackup
	}

	m, ok := h.registry.Get(methodCode)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "unknown or disabled method")
		return
	}

	verified, err := m.Verify(r.Context(), u, req.Code)
	if err != nil {
		if errors.Is(err, twofa.ErrAccountLocked) {
			h.writeIfLocked(w, r, u)
			return
		}
		slog.Error("Verification failed", "userID", u.ID, "method", methodCode, "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to verify")
		return
	}

	if !verified {
		// The backup method drives the failure counter itself; every
		// other method reports failures here.
		if methodCode != method.MethodBackup {
			if err := h.accounts.RecordFailure(r.Context(), u.ID); err != nil {
				slog.Error("Failed to record failed attempt", "userID", u.ID, "error", err)
			}
		}
		if h.writeIfLocked(w, r, u) {
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid code")
		return
	}

	if err := h.accounts.MarkVerified(r.Context(), u.ID); err != nil {
		slog.Error("Failed to mark account verified", "userID", u.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to verify")
		return
	}

	resp := VerifyResponse{Verified: true}

	sess, hasSession := session.FromContext(r.Context())
	if hasSession {
		h.markSessionVerified(r, sess, u)
		if err := sess.Delete(r.Context(), session.KeyEmailOTPSent); err != nil {
			slog.Error("Failed to clear OTP sent flag", "userID", u.ID, "error", err)
		}
		next, err := sess.Pop(r.Context(), session.KeyNextURL)
		if err != nil {
			slog.Error("Failed to pop next URL", "userID", u.ID, "error", err)
		}
		resp.Next = next
	}

	account, err = h.accounts.GetAccount(r.Context(), u.ID)
	if err == nil {
		resp.Warning = backupCodeWarning(account.AvailableBackupCodeCount())
	}

	render.JSON(w, r, resp)
}

// PostDisable turns 2FA off and wipes the stored secret and codes.
// (POST /2fa/disable)
func (h *Handle) PostDisable(w http.ResponseWriter, r *http.Request) {
	u, ok := user.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := h.accounts.Disable(r.Context(), u.ID); err != nil {
		if errors.Is(err, twofa.ErrNotFound) {
			writeError(w, r, http.StatusBadRequest, "two-factor authentication is not enabled")
			return
		}
		slog.Error("Failed to disable 2FA", "userID", u.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to disable")
		return
	}

	if sess, hasSession := session.FromContext(r.Context()); hasSession {
		if err := sess.Delete(r.Context(), session.KeyVerifiedAt); err != nil {
			slog.Error("Failed to clear session verification", "userID", u.ID, "error", err)
		}
	}

	render.JSON(w, r, StatusResponse{Result: "disabled"})
}

// GetBackupCodes reports the remaining supply. Right after enrollment or
// regeneration it also returns the plaintext codes exactly once.
// (GET /2fa/backup-codes)
func (h *Handle) GetBackupCodes(w http.ResponseWriter, r *http.Request) {
	u, ok := user.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), u.ID)
	if err != nil {
		if errors.Is(err, twofa.ErrNotFound) {
			writeError(w, r, http.StatusBadRequest, "two-factor authentication is not enabled")
			return
		}
		slog.Error("Failed to load 2FA account", "userID", u.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to load backup codes")
		return
	}

	resp := BackupCodesResponse{AvailableCount: account.AvailableBackupCodeCount()}

	if sess, hasSession := session.FromContext(r.Context()); hasSession {
		stashed, err := sess.Pop(r.Context(), session.KeyNewBackupCodes)
		if err != nil {
			slog.Error("Failed to pop stashed backup codes", "userID", u.ID, "error", err)
		} else if stashed != "" {
			var codes []string
			if err := json.Unmarshal([]byte(stashed), &codes); err == nil {
				resp.Codes = codes
			}
		}
	}

	render.JSON(w, r, resp)
}

// PostRegenerateBackupCodes issues a fresh code set, invalidating every
// previously issued code.
// (POST /2fa/backup-codes/regenerate)
func (h *Handle) PostRegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	u, ok := user.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), u.ID)
	if err != nil || !account.Enabled {
		writeError(w, r, http.StatusBadRequest, "two-factor authentication is not enabled")
		return
	}

	setupResult, err := h.backup.Setup(r.Context(), u)
	if err != nil {
		slog.Error("Failed to generate backup codes", "userID", u.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to regenerate backup codes")
		return
	}

	if err := h.accounts.ReplaceBackupCodes(r.Context(), u.ID, setupResult.HashedCodes); err != nil {
		slog.Error("Failed to replace backup codes", "userID", u.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to regenerate backup codes")
		return
	}

	render.JSON(w, r, BackupCodesResponse{
		AvailableCount: len(setupResult.Codes),
		Codes:          setupResult.Codes,
	})
}

// PostChangeMethod switches the active method. The target method must
// already be set up, and switching to the current method is rejected.
// (POST /2fa/method)
func (h *Handle) PostChangeMethod(w http.ResponseWriter, r *http.Request) {
	u, ok := user.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req ChangeMethodRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "unable to parse body")
		return
	}

	if req.Method == method.MethodBackup {
		writeError(w, r, http.StatusBadRequest, "backup codes cannot be the primary method")
		return
	}
	if !h.registry.IsEnabled(req.Method) {
		writeError(w, r, http.StatusBadRequest, "unknown or disabled method")
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), u.ID)
	if err != nil || !account.Enabled {
		writeError(w, r, http.StatusBadRequest, "two-factor authentication is not enabled")
		return
	}
	if account.Method == req.Method {
		writeError(w, r, http.StatusBadRequest, "this method is already active")
		return
	}

	m, _ := h.registry.Get(req.Method)
	configured, err := m.IsConfigured(r.Context(), u)
	if err != nil {
		slog.Error("Failed to check method configuration", "userID", u.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to change method")
		return
	}
	if !configured {
		writeError(w, r, http.StatusBadRequest, "set up this method before switching to it")
		return
	}

	if err := h.accounts.ChangeMethod(r.Context(), u.ID, req.Method); err != nil {
		slog.Error("Failed to change method", "userID", u.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to change method")
		return
	}

	render.JSON(w, r, StatusResponse{Result: "changed"})
}

// activeChallengeMethod resolves which method a send request targets: a
// pending setup takes precedence over the enabled account method.
func (h *Handle) activeChallengeMethod(r *http.Request, u user.User) (string, error) {
	if sess, hasSession := session.FromContext(r.Context()); hasSession {
		setupMethod, err := sess.Get(r.Context(), session.KeySetupMethod)
		if err == nil && setupMethod != "" {
			return setupMethod, nil
		}
	}

	account, err := h.accounts.GetAccount(r.Context(), u.ID)
	if err != nil || !account.Enabled {
		return "", fmt.Errorf("two-factor authentication is not enabled")
	}
	return account.Method, nil
}

// writeIfLocked writes the lockout response when the account is locked
// and reports whether it did.
func (h *Handle) writeIfLocked(w http.ResponseWriter, r *http.Request, u user.User) bool {
	locked, remaining, err := h.accounts.IsLocked(r.Context(), u.ID)
	if err != nil {
		slog.Error("Failed to check lockout", "userID", u.ID, "error", err)
		return false
	}
	if !locked {
		return false
	}

	seconds := int(remaining.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	render.Status(r, http.StatusLocked)
	render.JSON(w, r, ErrorResponse{
		Error:             "too many failed attempts, try again later",
		RetryAfterSeconds: seconds,
	})
	return true
}

func (h *Handle) markSessionVerified(r *http.Request, sess *session.Session, u user.User) {
	if err := sess.Put(r.Context(), session.KeyVerifiedAt, h.accounts.NowRFC3339()); err != nil {
		slog.Error("Failed to stamp session verification", "userID", u.ID, "error", err)
	}
}

func stashBackupCodes(r *http.Request, sess *session.Session, codes []string) {
	payload, err := json.Marshal(codes)
	if err != nil {
		return
	}
	if err := sess.Put(r.Context(), session.KeyNewBackupCodes, string(payload)); err != nil {
		slog.Error("Failed to stash backup codes in session", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: message})
}

func backupCodeWarning(available int) string {
	switch {
	case available == 0:
		return "You have no backup codes left. Regenerate them now."
	case available <= 2:
		return fmt.Sprintf("Only %d backup codes left. Consider regenerating them.", available)
	default:
		return ""
	}
}
