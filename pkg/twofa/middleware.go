package twofa

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/brandnova/nova2fa/pkg/session"
	"github.com/brandnova/nova2fa/pkg/user"
)

// Paths always exempt from the gate: the 2FA UI itself and the admin
// surface must stay reachable or a stale user could never re-verify.
var defaultExemptPaths = []string{"/2fa/", "/admin/"}

// GateConfig configures the verification gate middleware.
type GateConfig struct {
	// ExemptPaths are prefixes exempted in addition to the built-in ones.
	ExemptPaths []string
	// ProtectedPaths are prefixes requiring verification; "*" protects
	// every non-exempt path. Defaults to ["*"].
	ProtectedPaths []string
	// ExemptSuperusers passes superusers through without a challenge.
	ExemptSuperusers bool
	// VerifyURL is the challenge entry point. Defaults to "/2fa/verify".
	VerifyURL string
}

// Gate is the per-request verification state machine. Authenticated
// requests to protected paths are diverted to the challenge flow until
// the session or the account carries a fresh verification.
type Gate struct {
	service        *Service
	exemptPaths    []string
	protectedPaths []string
	exemptSupers   bool
	verifyURL      string
}

// NewGate creates the verification gate.
func NewGate(service *Service, cfg GateConfig) *Gate {
	exempt := append([]string{}, defaultExemptPaths...)
	exempt = append(exempt, cfg.ExemptPaths...)

	protected := cfg.ProtectedPaths
	if len(protected) == 0 {
		protected = []string{"*"}
	}

	verifyURL := cfg.VerifyURL
	if verifyURL == "" {
		verifyURL = "/2fa/verify"
	}

	return &Gate{
		service:        service,
		exemptPaths:    exempt,
		protectedPaths: protected,
		exemptSupers:   cfg.ExemptSuperusers,
		verifyURL:      verifyURL,
	}
}

// Handler returns the gate as chi-style middleware. The transition order
// is fixed: authentication, exemptions, superuser exemption, protection
// check, account state, freshness. An unprotected path never reaches the
// account lookup.
func (g *Gate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, authenticated := user.FromContext(r.Context())
		if !authenticated {
			next.ServeHTTP(w, r)
			return
		}

		path := r.URL.Path
		if g.isPathExempt(path) {
			next.ServeHTTP(w, r)
			return
		}

		if g.exemptSupers && u.Superuser {
			next.ServeHTTP(w, r)
			return
		}

		if !g.isPathProtected(path) {
			next.ServeHTTP(w, r)
			return
		}

		account, err := g.service.GetAccount(r.Context(), u.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				next.ServeHTTP(w, r)
				return
			}
			// Fail closed: an account we cannot read is treated as
			// unverified, never as a free pass.
			slog.Error("Verification gate failed to load account", "userID", u.ID, "error", err)
			g.redirectToChallenge(w, r)
			return
		}

		if !account.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		sessionVerifiedAt := ""
		sess, hasSession := session.FromContext(r.Context())
		if hasSession {
			sessionVerifiedAt, err = sess.Get(r.Context(), session.KeyVerifiedAt)
			if err != nil {
				slog.Error("Verification gate failed to read session", "userID", u.ID, "error", err)
				sessionVerifiedAt = ""
			}
		}

		if !g.service.NeedsVerification(account, sessionVerifiedAt) {
			next.ServeHTTP(w, r)
			return
		}

		g.redirectToChallenge(w, r)
	})
}

func (g *Gate) redirectToChallenge(w http.ResponseWriter, r *http.Request) {
	if sess, ok := session.FromContext(r.Context()); ok {
		if err := sess.Put(r.Context(), session.KeyNextURL, r.URL.RequestURI()); err != nil {
			slog.Error("Failed to stash redirect URL in session", "error", err)
		}
	}
	http.Redirect(w, r, g.verifyURL, http.StatusFound)
}

func (g *Gate) isPathExempt(path string) bool {
	for _, prefix := range g.exemptPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (g *Gate) isPathProtected(path string) bool {
	for _, prefix := range g.protectedPaths {
		if prefix == "*" {
			return true
		}
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
