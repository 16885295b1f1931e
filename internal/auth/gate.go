package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"coderoom/internal/models"
	"coderoom/internal/utils"
)

type ctxKey struct{}

// Gate admits connections whose credential the provider accepts.
type Gate struct {
	provider IdentityProvider
	log      *utils.Logger
}

func NewGate(provider IdentityProvider, log *utils.Logger) *Gate {
	return &Gate{provider: provider, log: log}
}

// Authenticate reads the credential presented at handshake time and verifies it.
func (g *Gate) Authenticate(r *http.Request) (models.UserIdentity, error) {
	credential, err := credentialFromRequest(r)
	if err != nil {
		return "", err
	}
	return g.provider.Verify(r.Context(), credential)
}

// Middleware rejects unauthenticated requests with 401 and stores the identity on the context.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := g.Authenticate(r)
		if err != nil {
			g.Refuse(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), user)))
	})
}

// Refuse writes the 401 for a failed handshake.
func (g *Gate) Refuse(w http.ResponseWriter, r *http.Request, err error) {
	g.log.Warn("connection refused", "path", r.URL.Path, "remote", r.RemoteAddr, "error", err.Error())
	code, msg := utils.CodeInvalidToken, ErrInvalidCredential.Error()
	if errors.Is(err, ErrMissingCredential) {
		code, msg = utils.CodeMissingToken, ErrMissingCredential.Error()
	}
	utils.JSONErrorCode(w, http.StatusUnauthorized, code, msg)
}

func WithIdentity(ctx context.Context, user models.UserIdentity) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

func IdentityFrom(ctx context.Context) (models.UserIdentity, bool) {
	user, ok := ctx.Value(ctxKey{}).(models.UserIdentity)
	return user, ok && user != ""
}

// credentialFromRequest checks the Authorization header, then the token query
// parameter, then a "bearer, <token>" websocket subprotocol.
func credentialFromRequest(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		token, err := utils.ExtractTokenFromHeader(header)
		if err != nil {
			return "", ErrInvalidCredential
		}
		return token, nil
	}
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token, nil
	}
	protocols := websocketProtocols(r)
	for i, p := range protocols {
		if strings.EqualFold(p, "bearer") && i+1 < len(protocols) && protocols[i+1] != "" {
			return protocols[i+1], nil
		}
	}
	return "", ErrMissingCredential
}

func websocketProtocols(r *http.Request) []string {
	var out []string
	for _, v := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(v, ",") {
			out = append(out, strings.TrimSpace(p))
		}
	}
	return out
}
