package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tasksync/pkg/util"
)

// AuthMiddleware guards the operational sync endpoints behind a bearer
// token issued to operators.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := util.ExtractToken(c.Request)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			c.Abort()
			return
		}

		subject, err := util.ParseJWT(token, jwtSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		// store operator in context so handlers can log it
		c.Set("operator", subject)

		c.Next()
	}
}
