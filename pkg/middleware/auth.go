package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/marrygold/usher/pkg/contextkeys"
	"github.com/marrygold/usher/pkg/identity"
	"github.com/marrygold/usher/pkg/observability"
)

// SessionCookie is the provider's session cookie name, checked when no
// Authorization header is present.
const SessionCookie = "__session"

// SessionClaims are the provider-attached claims consumed from a verified
// session token.
type SessionClaims struct {
	ExternalID string
	Email      string
	Name       string
	ImageURL   string
	Trusted    identity.TrustedMetadata
	Untrusted  identity.UntrustedMetadata
}

// Notification converts the claims into a change notification, used when a
// record has to be provisioned lazily because no webhook ever arrived.
func (c *SessionClaims) Notification() *identity.Notification {
	return &identity.Notification{
		ExternalID:  c.ExternalID,
		Email:       c.Email,
		DisplayName: c.Name,
		AvatarRef:   c.ImageURL,
		Trusted:     c.Trusted,
		Untrusted:   c.Untrusted,
	}
}

// SessionVerifier validates provider session tokens.
type SessionVerifier interface {
	Verify(ctx context.Context, rawToken string) (*SessionClaims, error)
}

// OIDCVerifier verifies session JWTs against the provider's issuer and JWKS.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the provider's keys from its issuer URL.
func NewOIDCVerifier(ctx context.Context, issuerURL string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover identity provider: %w", err)
	}
	// Session tokens are not issued to an OAuth client, so there is no
	// audience to check.
	verifier := provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	return &OIDCVerifier{verifier: verifier}, nil
}

// Verify implements SessionVerifier.
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*SessionClaims, error) {
	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify session token: %w", err)
	}

	var claims struct {
		Email          string                     `json:"email"`
		Name           string                     `json:"name"`
		Picture        string                     `json:"picture"`
		PublicMetadata identity.TrustedMetadata   `json:"public_metadata"`
		UnsafeMetadata identity.UntrustedMetadata `json:"unsafe_metadata"`
	}
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to read session claims: %w", err)
	}

	return &SessionClaims{
		ExternalID: token.Subject,
		Email:      claims.Email,
		Name:       claims.Name,
		ImageURL:   claims.Picture,
		Trusted:    claims.PublicMetadata,
		Untrusted:  claims.UnsafeMetadata,
	}, nil
}

// IdentityReader is the store surface the middleware needs.
type IdentityReader interface {
	GetByExternalID(ctx context.Context, externalID string) (*identity.Identity, error)
	CreateFromNotification(ctx context.Context, n *identity.Notification) (*identity.Identity, error)
}

// AuthMiddleware resolves the current identity once per request.
type AuthMiddleware struct {
	sessions SessionVerifier
	store    IdentityReader
	logger   *observability.Logger
}

// NewAuthMiddleware creates the middleware.
func NewAuthMiddleware(sessions SessionVerifier, store IdentityReader, logger *observability.Logger) *AuthMiddleware {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &AuthMiddleware{sessions: sessions, store: store, logger: logger}
}

// Handler attaches an identity.AuthContext to every request. Requests
// without a verifiable session continue as anonymous.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := m.resolve(r)
		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) resolve(r *http.Request) *identity.AuthContext {
	token := sessionToken(r)
	if token == "" {
		return &identity.AuthContext{}
	}

	claims, err := m.sessions.Verify(r.Context(), token)
	if err != nil {
		m.logger.WithError(err).Debug("treating request with unverifiable session as anonymous")
		return &identity.AuthContext{}
	}

	rec, err := m.store.GetByExternalID(r.Context(), claims.ExternalID)
	if errors.Is(err, identity.ErrNotFound) {
		// No webhook ever arrived for this person; provision from the
		// verified claims so the record self-heals.
		rec, err = m.store.CreateFromNotification(r.Context(), claims.Notification())
		if err == nil {
			m.logger.WithField("external_id", claims.ExternalID).
				Info("lazily provisioned identity on first authenticated request")
		}
	}
	if err != nil {
		m.logger.WithError(err).Warn("failed to load identity for verified session")
		return &identity.AuthContext{}
	}

	// The token's trusted metadata is fresher than the mirrored record;
	// re-derive the role for this request so a provider-side role change
	// takes effect on the next login even if its webhook is still in
	// flight. The stored record is only changed by the resolver.
	if claims.Trusted.Role != "" {
		derived := identity.ParseRole(claims.Trusted.Role)
		if derived != rec.Role {
			view := *rec
			view.Role = derived
			rec = &view
		}
	}

	return &identity.AuthContext{Identity: rec}
}

// GetAuthContext extracts the identity context from a request. Never nil.
func GetAuthContext(r *http.Request) *identity.AuthContext {
	value := r.Context().Value(contextkeys.AuthKey)
	if authCtx, ok := value.(*identity.AuthContext); ok {
		return authCtx
	}
	return &identity.AuthContext{}
}

func sessionToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}
