package middlewares

import (
	"errors"
	"net/http"
	"strings"

	"consogab/services"
	"consogab/utils"

	"github.com/gin-gonic/gin"
)

// TokenAuthMiddleware 校验 JWT 并把当前用户放入上下文
//
// Handlers read the caller through c.Get("user") (*models.User) and
// c.GetString("user_id").
func TokenAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			utils.RespondError(c, http.StatusUnauthorized, "missing authorization header")
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")
		if raw == header {
			utils.RespondError(c, http.StatusUnauthorized, "invalid authorization format")
			return
		}

		claims, err := services.ParseToken(raw)
		if err != nil {
			utils.RespondError(c, http.StatusUnauthorized, err.Error())
			return
		}
		user, err := services.GetUser(c.Request.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				utils.RespondError(c, http.StatusUnauthorized, "user no longer exists")
				return
			}
			utils.RespondError(c, http.StatusInternalServerError, "failed to load user")
			return
		}

		c.Set("user", &user)
		c.Set("user_id", user.ID)
		c.Next()
	}
}
