package notification

import "sync"

// MockNotifier records sent notifications for tests. When FailSends is set,
// Send returns the configured error instead.
type MockNotifier struct {
	SentNotifications []NotificationData
	FailSends         error
	mutex             sync.Mutex
}

func (m *MockNotifier) Send(noticeType NoticeType, notification NotificationData, template NoticeTemplate) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.FailSends != nil {
		return m.FailSends
	}
	m.SentNotifications = append(m.SentNotifications, notification)
	return nil
}
