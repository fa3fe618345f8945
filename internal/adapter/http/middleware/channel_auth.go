package middleware

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/api-sage/payment-gateway/internal/logger"
)

// ChannelAuth authenticates callers with HTTP basic auth against a channel
// id and a bcrypt hash of the channel key, so the plain key never lives in
// server memory beyond startup.
func ChannelAuth(channelID string, channelKeyHash []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if channelID == "" || len(channelKeyHash) == 0 {
				logger.Error("channel auth middleware missing server configuration", nil, logger.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
				})
				http.Error(w, "server auth configuration is missing", http.StatusInternalServerError)
				return
			}

			id, key, ok := r.BasicAuth()
			if !ok || !secureEqual(id, channelID) || bcrypt.CompareHashAndPassword(channelKeyHash, []byte(key)) != nil {
				logger.Info("channel auth middleware unauthorized request", logger.Fields{
					"method":      r.Method,
					"path":        r.URL.Path,
					"credentials": "invalid_or_missing",
				})
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HashChannelKey derives the bcrypt hash used by ChannelAuth from a
// configured plain key.
func HashChannelKey(channelKey string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(channelKey), bcrypt.DefaultCost)
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
