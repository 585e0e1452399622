package method

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brandnova/nova2fa/pkg/user"
)

type stubMethod struct {
	name    string
	display string
}

func (s stubMethod) Name() string        { return s.name }
func (s stubMethod) DisplayName() string { return s.display }
func (s stubMethod) Send(ctx context.Context, u user.User) (bool, error) {
	return true, nil
}
func (s stubMethod) Verify(ctx context.Context, u user.User, token string) (bool, error) {
	return false, nil
}
func (s stubMethod) Setup(ctx context.Context, u user.User) (SetupResult, error) {
	return SetupResult{}, nil
}
func (s stubMethod) IsConfigured(ctx context.Context, u user.User) (bool, error) {
	return true, nil
}

func TestRegistry(t *testing.T) {
	t.Run("get returns registered method", func(t *testing.T) {
		r := NewRegistry([]string{MethodTOTP})
		r.Register(stubMethod{name: MethodTOTP, display: "Authenticator App"})

		m, ok := r.Get(MethodTOTP)
		assert.True(t, ok)
		assert.Equal(t, MethodTOTP, m.Name())

		_, ok = r.Get(MethodEmail)
		assert.False(t, ok)
	})

	t.Run("enabled filters to allowlist", func(t *testing.T) {
		r := NewRegistry([]string{MethodTOTP, MethodBackup})
		r.Register(stubMethod{name: MethodTOTP})
		r.Register(stubMethod{name: MethodEmail})
		r.Register(stubMethod{name: MethodBackup})

		enabled := r.Enabled()
		assert.Len(t, enabled, 2)
		assert.Contains(t, enabled, MethodTOTP)
		assert.Contains(t, enabled, MethodBackup)
		assert.NotContains(t, enabled, MethodEmail)
	})

	t.Run("is enabled requires registration and allowlist", func(t *testing.T) {
		r := NewRegistry([]string{MethodTOTP, MethodEmail})
		r.Register(stubMethod{name: MethodTOTP})

		assert.True(t, r.IsEnabled(MethodTOTP))
		assert.False(t, r.IsEnabled(MethodEmail), "allowed but not registered")
		assert.False(t, r.IsEnabled(MethodBackup))
	})

	t.Run("choices preserve registration order", func(t *testing.T) {
		r := NewRegistry([]string{MethodTOTP, MethodEmail, MethodBackup})
		r.Register(stubMethod{name: MethodEmail, display: "Email OTP"})
		r.Register(stubMethod{name: MethodTOTP, display: "Authenticator App"})

		choices := r.Choices()
		assert.Equal(t, []Choice{
			{Code: MethodEmail, DisplayName: "Email OTP"},
			{Code: MethodTOTP, DisplayName: "Authenticator App"},
		}, choices)
	})

	t.Run("re-registration replaces without reordering", func(t *testing.T) {
		r := NewRegistry([]string{MethodTOTP, MethodEmail})
		r.Register(stubMethod{name: MethodTOTP, display: "First"})
		r.Register(stubMethod{name: MethodEmail, display: "Email OTP"})
		r.Register(stubMethod{name: MethodTOTP, display: "Second"})

		choices := r.Choices()
		assert.Equal(t, []Choice{
			{Code: MethodTOTP, DisplayName: "Second"},
			{Code: MethodEmail, DisplayName: "Email OTP"},
		}, choices)
	})
}
