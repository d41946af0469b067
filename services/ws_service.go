package services

import (
	"context"
	"net/http"
	"strings"

	"consogab/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWebSocket authenticates the token query parameter (or bearer
// header), upgrades the connection and starts its pumps.
func HandleWebSocket(ctx *gin.Context) {
	raw := ctx.Query("token")
	if raw == "" {
		raw = strings.TrimPrefix(ctx.GetHeader("Authorization"), "Bearer ")
	}
	claims, err := ParseToken(raw)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		logger.With("hub").Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(conn, claims.Subject)
	Manager.Register(client)

	// The request context ends with the handler; the pumps outlive it.
	go Manager.ReadMessages(context.WithoutCancel(ctx.Request.Context()), client)
	go client.WriteMessages()
}
