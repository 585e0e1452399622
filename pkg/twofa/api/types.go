package api

// SetupRequest starts enrollment for the chosen method.
type SetupRequest struct {
	Method string `json:"method"`
}

// SetupResponse carries the enrollment material the user needs before
// confirming. Secret and QR code are only present for TOTP.
type SetupResponse struct {
	Method          string `json:"method"`
	Secret          string `json:"secret,omitempty"`
	ProvisioningURI string `json:"provisioning_uri,omitempty"`
	QRCodePNG       string `json:"qr_code_png,omitempty"`
	OTPSent         bool   `json:"otp_sent,omitempty"`
}

// ConfirmRequest completes enrollment with a code from the new method.
type ConfirmRequest struct {
	Code string `json:"code"`
}

// ConfirmResponse reports the enabled state and the freshly issued backup
// codes, shown exactly once.
type ConfirmResponse struct {
	Enabled     bool     `json:"enabled"`
	Method      string   `json:"method"`
	BackupCodes []string `json:"backup_codes"`
}

// VerifyRequest submits a challenge code. Method may name "backup" to
// fall back to a recovery code; empty means the account's active method.
type VerifyRequest struct {
	Code   string `json:"code"`
	Method string `json:"method,omitempty"`
}

// VerifyResponse reports the verification outcome. Next is the original
// destination stashed when the gate diverted the request. Warning is set
// when the backup-code supply runs low.
type VerifyResponse struct {
	Verified bool   `json:"verified"`
	Next     string `json:"next,omitempty"`
	Warning  string `json:"warning,omitempty"`
}

// SendResponse reports whether a challenge was dispatched.
type SendResponse struct {
	Sent bool `json:"sent"`
}

// MethodInfo describes one selectable method in the settings summary.
type MethodInfo struct {
	Code        string `json:"code"`
	DisplayName string `json:"display_name"`
	Configured  bool   `json:"configured"`
}

// SettingsResponse is the account summary for the settings page.
type SettingsResponse struct {
	Enabled              bool         `json:"enabled"`
	Method               string       `json:"method,omitempty"`
	MethodDisplayName    string       `json:"method_display_name,omitempty"`
	AvailableBackupCodes int          `json:"available_backup_codes"`
	Methods              []MethodInfo `json:"methods"`
	Warning              string       `json:"warning,omitempty"`
}

// BackupCodesResponse reports the remaining supply and, right after
// enrollment or regeneration, the one-time plaintext codes.
type BackupCodesResponse struct {
	AvailableCount int      `json:"available_count"`
	Codes          []string `json:"codes,omitempty"`
}

// ChangeMethodRequest switches the active method.
type ChangeMethodRequest struct {
	Method string `json:"method"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
	// RetryAfterSeconds is set on lockout responses.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
}

// StatusResponse is the uniform success body for state-change endpoints.
type StatusResponse struct {
	Result string `json:"result"`
}
