package server

import (
	"crypto/subtle"
	"strings"

	"github.com/labstack/echo/v4"

	"traceflow/internal/core"
)

// AuthMiddleware requires "Authorization: Bearer <masterKey>" on every route
// except skipPaths. An empty masterKey disables it.
func AuthMiddleware(masterKey string, skipPaths []string) echo.MiddlewareFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	want := []byte(masterKey)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if masterKey == "" || skip[c.Request().URL.Path] {
				return next(c)
			}

			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			switch {
			case header == "":
				return denied(c, "missing authorization header")
			case !ok:
				return denied(c, "invalid authorization header format, expected 'Bearer <token>'")
			case subtle.ConstantTimeCompare([]byte(token), want) != 1:
				return denied(c, "invalid master key")
			}
			return next(c)
		}
	}
}

func denied(c echo.Context, message string) error {
	apiErr := core.NewAuthenticationError("", message)
	return c.JSON(apiErr.HTTPStatusCode(), apiErr.ToJSON())
}
