package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// clientCtxKey is the Gin context key used to store the authenticated client name.
const clientCtxKey = "client_id"

// HeaderName carries the API key.
const HeaderName = "X-API-Key"

// ParseKeys turns API_KEYS entries into a key → client name map. An entry is
// either "name:key" or a bare key, which is named client-N by position.
func ParseKeys(entries []string) map[string]string {
	keys := make(map[string]string, len(entries))
	for i, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		name, key, ok := strings.Cut(e, ":")
		if !ok {
			name, key = fmt.Sprintf("client-%d", i+1), e
		}
		keys[key] = name
	}
	return keys
}

// APIKeyMiddleware maps X-API-Key to a client name and rejects unknown keys.
// An empty key set disables the check.
func APIKeyMiddleware(keys map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(keys) == 0 {
			c.Next()
			return
		}

		apiKey := strings.TrimSpace(c.GetHeader(HeaderName))
		clientID, ok := match(keys, apiKey)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(clientCtxKey, clientID)
		c.Next()
	}
}

// match compares against every key in constant time.
func match(keys map[string]string, candidate string) (string, bool) {
	if candidate == "" {
		return "", false
	}
	var found string
	for k, name := range keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(candidate)) == 1 {
			found = name
		}
	}
	return found, found != ""
}

// ClientID returns the authenticated client name from the request context.
func ClientID(c *gin.Context) string {
	v, _ := c.Get(clientCtxKey)
	s, _ := v.(string)
	return s
}
