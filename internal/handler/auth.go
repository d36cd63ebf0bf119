// internal/handler/auth.go
package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"verification-service/internal/domain"
	"verification-service/pkg/xerrors"
)

type ctxKey string

const actorKey ctxKey = "actor"

// AdminClaims are the claims carried by admin bearer tokens.
type AdminClaims struct {
	UserID string `json:"uid"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AdminAuth verifies HS256 bearer tokens and admits admins only.
type AdminAuth struct {
	secret []byte
	logger *zap.Logger
}

func NewAdminAuth(secret string, logger *zap.Logger) *AdminAuth {
	return &AdminAuth{secret: []byte(secret), logger: logger}
}

func (a *AdminAuth) parse(tokenStr string) (*AdminClaims, error) {
	claims := new(AdminClaims)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	token, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, xerrors.ErrUnauthorized
	}
	return claims, nil
}

func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenStr, found := strings.CutPrefix(header, "Bearer ")
		if !found || tokenStr == "" {
			sendError(w, http.StatusUnauthorized, "missing bearer token", xerrors.ErrUnauthorized)
			return
		}

		claims, err := a.parse(tokenStr)
		if err != nil {
			a.logger.Warn("rejected admin token", zap.String("remote_addr", r.RemoteAddr))
			sendError(w, http.StatusUnauthorized, "invalid token", err)
			return
		}
		if claims.Role != string(domain.RoleAdmin) || claims.UserID == "" {
			sendError(w, http.StatusForbidden, "admin role required", xerrors.ErrForbidden)
			return
		}

		actor := domain.Actor{ID: claims.UserID, Role: domain.RoleAdmin}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
	})
}

// ActorFromContext returns the admin attached by AdminAuth.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(domain.Actor)
	return actor, ok
}
