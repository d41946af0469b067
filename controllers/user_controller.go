package controllers

import (
	"net/http"

	"consogab/services"
	"consogab/utils"

	"github.com/gin-gonic/gin"
)

type authResponse struct {
	Token string               `json:"token"`
	User  services.ProfileView `json:"user"`
}

// 用户注册
func Register(c *gin.Context) {
	var userInput struct {
		Username    string `json:"username" binding:"required"`
		Password    string `json:"password" binding:"required"`
		DisplayName string `json:"display_name"`
	}
	if err := c.ShouldBindJSON(&userInput); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	user, err := services.RegisterUser(c.Request.Context(), userInput.Username, userInput.Password, userInput.DisplayName)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	// 生成 JWT Token
	token, err := services.GenerateToken(user)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	profiles, _ := services.ResolveProfiles(c.Request.Context(), []string{user.ID})
	utils.RespondSuccess(c, authResponse{Token: token, User: profiles[user.ID]}, nil)
}

// 用户登录
func Login(c *gin.Context) {
	var loginInput struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&loginInput); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}
	user, err := services.Authenticate(c.Request.Context(), loginInput.Username, loginInput.Password)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	token, err := services.GenerateToken(user)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	profiles, _ := services.ResolveProfiles(c.Request.Context(), []string{user.ID})
	utils.RespondSuccess(c, authResponse{Token: token, User: profiles[user.ID]}, nil)
}

func GetUserInfo(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	utils.RespondSuccess(c, gin.H{
		"id":           user.ID,
		"username":     user.Username,
		"display_name": user.Name(),
		"avatar_url":   user.AvatarURL,
		"last_login":   user.LastLogin,
	}, nil)
}

// ResolveProfiles returns the public profiles of a batch of user ids.
func ResolveProfiles(c *gin.Context) {
	var input struct {
		UserIDs []string `json:"user_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}
	profiles, err := services.ResolveProfiles(c.Request.Context(), input.UserIDs)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, profiles, nil)
}

// CreateBusiness registers a business page owned by the caller.
func CreateBusiness(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var input struct {
		Name     string `json:"name" binding:"required"`
		LogoURL  string `json:"logo_url"`
		Category string `json:"category"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}
	b, err := services.CreateBusiness(c.Request.Context(), user.ID, input.Name, input.LogoURL, input.Category)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, services.BusinessView{ID: b.ID, Name: b.Name, LogoURL: b.LogoURL, Category: b.Category}, nil)
}
