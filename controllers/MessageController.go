package controllers

import (
	"net/http"
	"strconv"

	"consogab/services"
	"consogab/utils"

	"github.com/gin-gonic/gin"
)

const defaultPageSize = 50

// 获取会话的消息列表
//
// start and end are inclusive offsets from the newest message.
func GetMessagesByConversationID(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID := c.Param("id")
	start, err := strconv.Atoi(c.DefaultQuery("start", "0"))
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, "invalid start")
		return
	}
	end, err := strconv.Atoi(c.DefaultQuery("end", strconv.Itoa(start+defaultPageSize-1)))
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, "invalid end")
		return
	}

	// 确保用户是该会话的成员
	if err := services.RequireParticipant(c.Request.Context(), conversationID, user.ID); err != nil {
		respondServiceError(c, err)
		return
	}
	messages, err := services.ListMessages(c.Request.Context(), conversationID, start, end)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	want := end - start + 1
	if want > services.MaxPageSize {
		want = services.MaxPageSize
	}
	utils.RespondSuccess(c, messages, utils.Meta{Count: len(messages), HasMore: len(messages) == want})
}

// 发送消息
func SendMessage(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var input services.NewMessageInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}
	conversationID := c.Param("id")
	if err := services.RequireParticipant(c.Request.Context(), conversationID, user.ID); err != nil {
		respondServiceError(c, err)
		return
	}
	msg, err := services.InsertMessage(c.Request.Context(), conversationID, user.ID, input)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, msg, nil)
}

// MarkRead 更新已读
func MarkRead(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	if err := services.MarkRead(c.Request.Context(), c.Param("id"), user.ID); err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, nil, nil)
}

// ToggleReaction adds or removes the caller's reaction on a message.
func ToggleReaction(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var input struct {
		Symbol string `json:"symbol" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}
	msg, err := services.ToggleReaction(c.Request.Context(), c.Param("id"), user.ID, input.Symbol)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, msg, nil)
}
