package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const operatorContextKey = "Operator"

// OperatorSubject is the subject of every token issued by this service.
const OperatorSubject = "operator"

var (
	errAuthDisabled   = errors.New("operator key not configured")
	errBadOperatorKey = errors.New("invalid operator key")
)

// OperatorClaims are the JWT claims carried by operator tokens.
type OperatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator exchanges the operator key for short-lived tokens and
// checks them on mutating routes. The key may be given in plain text or as
// a bcrypt hash.
type Authenticator struct {
	secret      []byte
	operatorKey string
	ttl         time.Duration
	now         func() time.Time
}

func NewAuthenticator(secret, operatorKey string, ttl time.Duration) *Authenticator {
	return &Authenticator{
		secret:      []byte(secret),
		operatorKey: operatorKey,
		ttl:         ttl,
		now:         time.Now,
	}
}

// HashOperatorKey returns a bcrypt hash suitable for OPERATOR_KEY.
func HashOperatorKey(key string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (a *Authenticator) checkKey(key string) error {
	if a.operatorKey == "" {
		return errAuthDisabled
	}
	if strings.HasPrefix(a.operatorKey, "$2") {
		if bcrypt.CompareHashAndPassword([]byte(a.operatorKey), []byte(key)) != nil {
			return errBadOperatorKey
		}
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(a.operatorKey), []byte(key)) != 1 {
		return errBadOperatorKey
	}
	return nil
}

// Issue signs a token for the operator.
func (a *Authenticator) Issue() (string, time.Time, error) {
	now := a.now()
	expiresAt := now.Add(a.ttl)
	claims := OperatorClaims{
		Role: OperatorSubject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   OperatorSubject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse validates tokenStr and returns its claims.
func (a *Authenticator) Parse(tokenStr string) (*OperatorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &OperatorClaims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*OperatorClaims)
	if !ok || !token.Valid || claims.Role != OperatorSubject {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// Middleware enforces JWT auth for protected routes.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			respondError(c, http.StatusUnauthorized, "MISSING_TOKEN", "missing Authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			respondError(c, http.StatusUnauthorized, "INVALID_AUTH_HEADER", "invalid Authorization header")
			c.Abort()
			return
		}

		claims, err := a.Parse(parts[1])
		if err != nil {
			respondError(c, http.StatusUnauthorized, "INVALID_TOKEN", "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(operatorContextKey, claims.Subject)
		c.Next()
	}
}

// issueToken exchanges the operator key for a bearer token.
func (s *Server) issueToken(c *gin.Context) {
	var req struct {
		OperatorKey string `json:"operator_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "operator_key is required")
		return
	}

	if err := s.Auth.checkKey(req.OperatorKey); err != nil {
		if errors.Is(err, errAuthDisabled) {
			respondError(c, http.StatusServiceUnavailable, "AUTH_DISABLED", err.Error())
			return
		}
		s.logger.Warn().Str("ip", c.ClientIP()).Msg("rejected operator key")
		respondError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", err.Error())
		return
	}

	token, expiresAt, err := s.Auth.Issue()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "TOKEN_ERROR", "failed to issue token")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"token_type": "Bearer",
		"expires_at": expiresAt.UTC(),
	})
}
