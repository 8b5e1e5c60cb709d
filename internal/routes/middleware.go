package routes

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"noteen/backend/internal/services"
)

// AuthMiddleware はJWTトークンを検証し、subjectをコンテキストに設定するミドルウェアです。
// EventSource はヘッダーを付けられないため、ストリームでは ?token= も受け付けます。
func AuthMiddleware(jwtService *services.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.GetHeader("Authorization")
		if tokenString == "" {
			tokenString = queryToken(c)
		}
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}
		// "Bearer " プレフィックスを削除
		if !strings.HasPrefix(tokenString, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token format"})
			c.Abort()
			return
		}
		tokenString = tokenString[len("Bearer "):]

		claims, err := jwtService.ValidateToken(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		c.Set("subject", claims.Subject)
		c.Next()
	}
}

func queryToken(c *gin.Context) string {
	if !strings.HasSuffix(c.Request.URL.Path, "/stream") {
		return ""
	}
	if token := c.Query("token"); token != "" {
		return "Bearer " + token
	}
	return ""
}
