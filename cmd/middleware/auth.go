package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"gameRoster/internal/dto"
	"gameRoster/internal/model"
)

const callerKey = "caller"

var errInvalidClaims = errors.New("token carries no usable user id")

// Auth resolves the caller from an optional bearer token. Requests without an
// Authorization header continue as anonymous; a malformed or invalid token is
// rejected.
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Set(callerKey, model.Caller{})
			c.Next()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			dto.ErrorResponse(c, http.StatusUnauthorized, dto.Unauthenticated, "Invalid authorization header format")
			c.Abort()
			return
		}

		caller, err := parseCaller(parts[1], jwtSecret)
		if err != nil {
			dto.ErrorResponse(c, http.StatusUnauthorized, dto.Unauthenticated, "Invalid or expired token")
			c.Abort()
			return
		}

		c.Set(callerKey, caller)
		c.Next()
	}
}

func parseCaller(tokenString, secret string) (model.Caller, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return model.Caller{}, err
	}
	if !token.Valid {
		return model.Caller{}, jwt.ErrTokenInvalidClaims
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return model.Caller{}, errInvalidClaims
	}

	// "user_id" first, then the registered subject.
	raw, _ := claims["user_id"].(string)
	if raw == "" {
		raw, _ = claims.GetSubject()
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return model.Caller{}, errInvalidClaims
	}

	name, _ := claims["name"].(string)
	return model.Caller{UserID: &userID, Name: name}, nil
}

// RequireAuth rejects anonymous callers.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CallerFrom(c).Anonymous() {
			dto.UnauthenticatedError(c)
			c.Abort()
			return
		}
		c.Next()
	}
}

// CallerFrom returns the caller resolved by Auth, or an anonymous caller.
func CallerFrom(c *gin.Context) model.Caller {
	if v, ok := c.Get(callerKey); ok {
		if caller, ok := v.(model.Caller); ok {
			return caller
		}
	}
	return model.Caller{}
}
