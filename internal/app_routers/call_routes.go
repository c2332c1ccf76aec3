package approuters

import (
	"github.com/gin-gonic/gin"

	"Tutorlink/internal/configuration"
	"Tutorlink/internal/handler"
)

// CallRouters sets up call history and conversation API routes
func CallRouters(router *gin.Engine, container *configuration.Container) {
	callHandler := handler.NewCallHandler(container.CallRepo, container.ConversationRepo)

	callGroup := router.Group("/tl/api")
	{
		callGroup.GET("/calls/:userId", callHandler.GetUserCalls)
		callGroup.GET("/conversations/:userId", callHandler.GetUserConversations)
		callGroup.POST("/conversations", callHandler.CreateConversation)
	}
}
