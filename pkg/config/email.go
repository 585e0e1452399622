package config

import "github.com/brandnova/nova2fa/pkg/notification"

// EmailConfig holds the SMTP settings for outgoing OTP email.
type EmailConfig struct {
	Host     string `env:"NOVA2FA_EMAIL_HOST" env-default:"localhost"`
	Port     uint16 `env:"NOVA2FA_EMAIL_PORT" env-default:"1025"`
	Username string `env:"NOVA2FA_EMAIL_USERNAME"`
	Password string `env:"NOVA2FA_EMAIL_PASSWORD"`
	From     string `env:"NOVA2FA_EMAIL_FROM" env-default:"noreply@example.com"`
	TLS      bool   `env:"NOVA2FA_EMAIL_TLS" env-default:"false"`
	// OTPSubject is the subject line for verification code emails.
	OTPSubject string `env:"NOVA2FA_EMAIL_OTP_SUBJECT" env-default:"Your verification code"`
}

// ToSMTPConfig converts the config to a notification.SMTPConfig.
func (e EmailConfig) ToSMTPConfig() notification.SMTPConfig {
	return notification.SMTPConfig{
		Host:     e.Host,
		Port:     int(e.Port),
		Username: e.Username,
		Password: e.Password,
		From:     e.From,
		TLS:      e.TLS,
	}
}
