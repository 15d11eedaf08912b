// Package middleware содержит HTTP middleware партнёрской консоли.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/partner-console/internal/model"
)

type contextKey string

const operatorKey contextKey = "operator"

const (
	authCookieName = "partner_session"
	authCookieTTL  = 12 * time.Hour
)

// Operator - оператор консоли, от имени которого выполняется запрос.
type Operator struct {
	UserID string
	Role   model.Role
}

// AuthMiddleware выполняет проверку аутентификации оператора по подписанному cookie.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет cookie сессии и добавляет оператора в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		op, ok := a.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), operatorKey, op)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetAuthCookie устанавливает cookie сессии оператора.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, op Operator) {
	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    a.sign(op),
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func (a *AuthMiddleware) sign(op Operator) string {
	payload := op.UserID + ":" + strconv.Itoa(int(op.Role))
	return payload + "." + a.signature(payload)
}

func (a *AuthMiddleware) signature(payload string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseCookie(cookieValue string) (Operator, bool) {
	dot := strings.LastIndex(cookieValue, ".")
	if dot <= 0 {
		return Operator{}, false
	}

	payload := cookieValue[:dot]
	signature := cookieValue[dot+1:]
	if !hmac.Equal([]byte(signature), []byte(a.signature(payload))) {
		return Operator{}, false
	}

	colon := strings.LastIndex(payload, ":")
	if colon <= 0 {
		return Operator{}, false
	}

	role, err := model.ParseRole(payload[colon+1:])
	if err != nil {
		return Operator{}, false
	}

	return Operator{UserID: payload[:colon], Role: role}, true
}

// GetOperatorFromContext извлекает оператора из контекста запроса.
func GetOperatorFromContext(ctx context.Context) (Operator, bool) {
	op, ok := ctx.Value(operatorKey).(Operator)
	return op, ok
}

// WithOperator возвращает контекст с оператором op.
func WithOperator(ctx context.Context, op Operator) context.Context {
	return context.WithValue(ctx, operatorKey, op)
}
