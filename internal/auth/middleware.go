package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
)

type identityContextKey struct{}
type authErrorContextKey struct{}

// IdentityFromContext returns the authenticated principal, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(Identity)
	return identity, ok
}

// AuthErrorFromContext reports why the optional-auth path left the identity
// unset, distinguishing an anonymous request from one that presented an
// invalid token.
func AuthErrorFromContext(ctx context.Context) (error, bool) {
	err, ok := ctx.Value(authErrorContextKey{}).(error)
	return err, ok
}

// AccountSource resolves accounts during transparent refresh. Implemented by
// the Repository.
type AccountSource interface {
	AccountByID(ctx context.Context, id string) (Account, error)
}

// Middleware authenticates protected requests from the access cookie or a
// bearer header, performing at most one transparent refresh when the access
// token has expired and a valid refresh cookie is present.
type Middleware struct {
	tokens   *TokenIssuer
	cookies  *CookieManager
	accounts AccountSource
}

func NewMiddleware(tokens *TokenIssuer, cookies *CookieManager, accounts AccountSource) *Middleware {
	return &Middleware{tokens: tokens, cookies: cookies, accounts: accounts}
}

func (m *Middleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := m.authenticate(w, r)
		if err != nil {
			if errors.Is(err, ErrMissingToken) {
				writeError(w, http.StatusUnauthorized, CodeMissingToken, "missing authentication token")
				return
			}
			writeError(w, http.StatusUnauthorized, CodeInvalidToken, "invalid or expired authentication token")
			return
		}

		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
	})
}

// Optional resolves the identity the same way Require does but never rejects
// the request. A missing token proceeds anonymously; a present-but-invalid
// token proceeds with the failure recorded in context.
func (m *Middleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := m.authenticate(w, r)
		switch {
		case err == nil:
			r = r.WithContext(withIdentity(r.Context(), identity))
		case errors.Is(err, ErrMissingToken):
			// anonymous
		default:
			r = r.WithContext(context.WithValue(r.Context(), authErrorContextKey{}, err))
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return m.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		if identity.Role != RoleAdmin {
			writeError(w, http.StatusForbidden, CodeAdminRequired, "admin role required")
			return
		}

		next.ServeHTTP(w, r)
	}))
}

func (m *Middleware) authenticate(w http.ResponseWriter, r *http.Request) (Identity, error) {
	raw, ok := readAccessToken(r)
	if !ok {
		return Identity{}, ErrMissingToken
	}

	claims, err := m.tokens.Verify(raw, TokenAccess)
	if err == nil {
		return Identity{AccountID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
	}
	if !errors.Is(err, ErrTokenExpired) {
		return Identity{}, ErrInvalidToken
	}

	return m.refresh(w, r)
}

// refresh is attempted exactly once per request. Two racing requests over
// the same expired access token may each mint a fresh access token; that is
// fine because refresh tokens are not single-use.
func (m *Middleware) refresh(w http.ResponseWriter, r *http.Request) (Identity, error) {
	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil || cookie.Value == "" {
		return Identity{}, ErrInvalidToken
	}

	claims, err := m.tokens.Verify(cookie.Value, TokenRefresh)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}

	account, err := m.accounts.AccountByID(r.Context(), claims.Subject)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}

	access, expiresAt, err := m.tokens.IssueAccess(account.ID, account.Email, account.Role)
	if err != nil {
		sentry.CaptureException(err)
		return Identity{}, ErrInvalidToken
	}

	m.cookies.AttachAccess(w, access, expiresAt)

	return Identity{AccountID: account.ID, Email: account.Email, Role: account.Role}, nil
}

func withIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}
