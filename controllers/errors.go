package controllers

import (
	"errors"
	"net/http"

	"consogab/logger"
	"consogab/models"
	"consogab/services"
	"consogab/utils"

	"github.com/gin-gonic/gin"
)

// respondServiceError maps a service error to its HTTP status.
func respondServiceError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrNotParticipant):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrSelfConversation),
		errors.Is(err, services.ErrInvalidRange),
		errors.Is(err, services.ErrEmptyMessage),
		errors.Is(err, services.ErrInvalidKind),
		errors.Is(err, services.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrUserExists):
		status = http.StatusConflict
	case errors.Is(err, services.ErrInvalidCredentials), errors.Is(err, services.ErrInvalidToken):
		status = http.StatusUnauthorized
	}
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		logger.With("http").Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		utils.RespondError(c, status, "internal error")
		return
	}
	utils.RespondError(c, status, err.Error())
}

// currentUser 从上下文中获取用户信息
func currentUser(c *gin.Context) (*models.User, bool) {
	v, exists := c.Get("user")
	if !exists {
		utils.RespondError(c, http.StatusUnauthorized, "user not found")
		return nil, false
	}
	user, ok := v.(*models.User)
	if !ok {
		utils.RespondError(c, http.StatusBadRequest, "invalid user data")
		return nil, false
	}
	return user, true
}
