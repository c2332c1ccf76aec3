package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"Tutorlink/internal/model"
	"Tutorlink/internal/repo"
)

type CallHandler interface {
	GetUserCalls(c *gin.Context)
	GetUserConversations(c *gin.Context)
	CreateConversation(c *gin.Context)
}

type callHandler struct {
	calls         repo.CallRepository
	conversations repo.ConversationRepository
}

func NewCallHandler(calls repo.CallRepository, conversations repo.ConversationRepository) CallHandler {
	return &callHandler{
		calls:         calls,
		conversations: conversations,
	}
}

func (h *callHandler) GetUserCalls(c *gin.Context) {
	userID := c.Param("userId")
	page := c.DefaultQuery("page", "1")
	pageNumber, err := strconv.ParseInt(page, 10, 64)
	if err != nil || pageNumber < 1 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid page number",
		})
		return
	}

	result, err := h.calls.ListUserCalls(c.Request.Context(), userID, pageNumber)
	if err != nil {
		if errors.Is(err, repo.ErrInvalidUserID) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "userId is required",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get call history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"calls": result,
	})
}

func (h *callHandler) GetUserConversations(c *gin.Context) {
	userID := c.Param("userId")

	cvs, err := h.conversations.ListForUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repo.ErrInvalidUserID) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "userId is required",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get conversations",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversations": cvs,
	})
}

type createConversationRequest struct {
	ConversationID string   `json:"conversationId" binding:"required"`
	Subject        string   `json:"subject"`
	MemberIDs      []string `json:"memberIds" binding:"required,min=2"`
}

func (h *callHandler) CreateConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "conversationId and at least two memberIds are required",
		})
		return
	}

	conv := model.Conversation{
		ConversationID: req.ConversationID,
		Subject:        req.Subject,
		MemberIDs:      req.MemberIDs,
		IsActive:       true,
		CreatedAt:      time.Now(),
	}
	if err := h.conversations.Create(c.Request.Context(), conv); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create conversation",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"conversation": conv,
	})
}
