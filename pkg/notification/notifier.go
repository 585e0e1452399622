package notification

// NotificationSystem identifies a delivery channel.
type NotificationSystem string

// NoticeType identifies a kind of notification (e.g. the OTP code email).
type NoticeType string

const (
	EmailSystem NotificationSystem = "email"

	// OTPCodeNotice is the email carrying a one-time verification code.
	OTPCodeNotice NoticeType = "otp_code"
)

// NotificationData carries the recipient and template data for one send.
type NotificationData struct {
	To   string
	Data map[string]string
}

// NoticeTemplate holds the renderable bodies for a notice.
type NoticeTemplate struct {
	Subject string
	Text    string
	Html    string
}

// Notifier sends a rendered notice over one delivery channel.
type Notifier interface {
	Send(noticeType NoticeType, notification NotificationData, template NoticeTemplate) error
}
