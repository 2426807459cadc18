package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"

	"echofm/config"
	"echofm/core/ratelimit"
	"echofm/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
)

type contextKey string

const (
	userIDKey   contextKey = "userID"
	identityKey contextKey = "clientIdentity"
)

// corsMiddleware mirrors the browser-facing headers of the old player UI.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// identityMiddleware resolves who is calling, in order: authenticated user id
// from a bearer token, first X-Forwarded-For hop, direct connection address.
// Session issuance lives elsewhere; only verification happens here.
func identityMiddleware(cfg *config.Config) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if userID, ok := userFromToken(r, cfg.JWTSecret); ok {
				ctx = context.WithValue(ctx, userIDKey, userID)
				ctx = context.WithValue(ctx, identityKey, "user:"+strconv.FormatInt(userID, 10))
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			clientIP := r.RemoteAddr
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				clientIP = host
			}
			if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
				clientIP = strings.TrimSpace(strings.Split(forwarded, ",")[0])
			}
			ctx = context.WithValue(ctx, identityKey, "ip:"+clientIP)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// userFromToken extracts the user id claim from a bearer token, if present
// and validly signed.
func userFromToken(r *http.Request, secret string) (int64, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return 0, false
	}
	tokenString := strings.TrimPrefix(auth, "Bearer ")

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return 0, false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, false
	}
	userID, ok := claims["userId"].(float64)
	if !ok || userID <= 0 {
		return 0, false
	}
	return int64(userID), true
}

// rateLimitMiddleware applies the sliding-window limiter per client identity
// and endpoint class. Denials answer 429 with the window as retry_after.
func rateLimitMiddleware(limiter *ratelimit.Limiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, _ := r.Context().Value(identityKey).(string)
			if identity == "" {
				identity = "ip:" + r.RemoteAddr
			}

			decision := limiter.Allow(r.Context(), identity, r.URL.Path)
			if !decision.Allowed {
				logger.Warn("Request rate limited",
					logger.String("client", identity),
					logger.String("path", r.URL.Path))
				w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
				writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
					"detail":     "Rate limit exceeded",
					"retryAfter": decision.RetryAfter,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestUserID returns the authenticated user id, or 0 when anonymous.
func requestUserID(r *http.Request) int64 {
	userID, _ := r.Context().Value(userIDKey).(int64)
	return userID
}
