package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var allPermissions = []string{
	"study.create",
	"study.update",
	"study.delete",
	"study.report:add",
	"study.analyze",
}

func AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		app := c.(*AppContext).App

		// Mock mode serves demo data without an auth provider.
		if app.MockMode {
			c.(*AppContext).User = &AppUser{
				UserID:      "mock",
				Role:        "admin",
				Permissions: allPermissions,
			}
			return next(c)
		}

		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			return c.JSON(http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		}

		token := strings.Split(authHeader, " ")[1]

		// Master API Key bypass
		if app.MasterAPIKey != "" && token == app.MasterAPIKey {
			c.(*AppContext).User = &AppUser{
				UserID:      "master",
				Role:        "admin",
				Permissions: allPermissions,
			}
			return next(c)
		}

		// Parse JWT token
		k := *app.Key
		parsed, err := jwt.Parse(token, k.Keyfunc)
		if err != nil || !parsed.Valid {
			return c.JSON(http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		}

		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		}

		var userID string
		if idClaim, ok := claims["sub"].(string); ok {
			userID = idClaim
		} else if idClaim, ok := claims["id"].(string); ok {
			userID = idClaim
		} else if idFloat, ok := claims["id"].(float64); ok {
			userID = fmt.Sprintf("%d", int64(idFloat))
		} else {
			return c.JSON(http.StatusUnauthorized, map[string]string{"message": "Invalid user ID"})
		}

		role := "user"
		if roleClaim, ok := claims["role"].(string); ok {
			role = roleClaim
		}

		var permissions []string
		if permsClaim, ok := claims["permissions"].([]any); ok {
			for _, p := range permsClaim {
				if pStr, ok := p.(string); ok {
					permissions = append(permissions, pStr)
				}
			}
		}

		if role == "admin" && len(permissions) == 0 {
			permissions = allPermissions
		}

		c.(*AppContext).User = &AppUser{
			UserID:      userID,
			Role:        role,
			Permissions: permissions,
		}

		return next(c)
	}
}
