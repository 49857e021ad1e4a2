package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/technosupport/ts-trapnet/internal/auth"
	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/tokens"
)

type TokenValidator interface {
	ValidateToken(tokenString string) (*tokens.Claims, error)
}

type JWTAuth struct {
	tokens    TokenValidator
	users     data.UserModel
	blacklist auth.TokenBlacklist
}

func NewJWTAuth(t TokenValidator, users data.UserModel, b auth.TokenBlacklist) *JWTAuth {
	return &JWTAuth{tokens: t, users: users, blacklist: b}
}

// Middleware verifies the JWT, checks the blacklist, loads the user row and
// injects AuthContext. Inactive users get 401 even with a valid token.
func (m *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := m.tokens.ValidateToken(parts[1])
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if claims.TokenType != tokens.Access {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		// Fail closed on blacklist errors.
		blacklisted, err := m.blacklist.IsBlacklisted(r.Context(), claims.ID)
		if err != nil || blacklisted {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		user, err := m.users.GetByID(r.Context(), userID)
		if err != nil || !user.IsActive {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := WithAuthContext(r.Context(), &AuthContext{User: user, TokenID: claims.ID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
