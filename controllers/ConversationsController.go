package controllers

import (
	"net/http"

	"consogab/services"
	"consogab/utils"

	"github.com/gin-gonic/gin"
)

// GetConversations 获取当前用户的会话列表
func GetConversations(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	list, err := services.ListConversations(c.Request.Context(), user.ID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, list, utils.Meta{Count: len(list)})
}

// CreateConversationHandler 创建会话（使用POST请求）
//
// An existing conversation between the two users (with the same business
// context) is returned instead of creating a new one.
func CreateConversationHandler(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var requestData struct {
		ReceiverID string `json:"receiver_id" binding:"required"` // 目标用户ID
		BusinessID string `json:"business_id"`
	}
	if err := c.ShouldBindJSON(&requestData); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, created, err := services.GetOrCreateConversation(c.Request.Context(), user.ID, requestData.ReceiverID, requestData.BusinessID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, gin.H{"conversation_id": conv.ConversationID, "created": created}, nil)
}

// CreateGroupHandler 创建群聊
func CreateGroupHandler(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var input struct {
		Title     string   `json:"title" binding:"required"`
		MemberIDs []string `json:"member_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}
	conv, err := services.CreateGroupConversation(c.Request.Context(), user.ID, input.Title, input.MemberIDs)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, gin.H{"conversation_id": conv.ConversationID, "created": true}, nil)
}

// GetConversationByID 根据会话 ID 获取会话信息
func GetConversationByID(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	view, err := services.GetConversation(c.Request.Context(), c.Param("id"), user.ID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, view, nil)
}

// TouchConversation bumps the conversation to the top of its members'
// directories.
func TouchConversation(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := services.RequireParticipant(c.Request.Context(), id, user.ID); err != nil {
		respondServiceError(c, err)
		return
	}
	if err := services.TouchConversation(c.Request.Context(), id); err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, nil, nil)
}
