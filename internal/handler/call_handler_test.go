package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Tutorlink/internal/db"
	"Tutorlink/internal/model"
	"Tutorlink/internal/repo"
)

type stubCalls struct {
	result *db.PaginatedResult[model.CallRecord]
	err    error
}

func (s *stubCalls) Record(ctx context.Context, rec model.CallRecord) error { return nil }

func (s *stubCalls) ListUserCalls(ctx context.Context, userID string, page int64) (*db.PaginatedResult[model.CallRecord], error) {
	if userID == "" {
		return nil, repo.ErrInvalidUserID
	}
	return s.result, s.err
}

type stubConversations struct {
	created []model.Conversation
	err     error
}

func (s *stubConversations) Members(ctx context.Context, conversationID string) ([]string, error) {
	return nil, nil
}

func (s *stubConversations) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	return nil, repo.ErrConversationNotFound
}

func (s *stubConversations) Create(ctx context.Context, conv model.Conversation) error {
	if s.err != nil {
		return s.err
	}
	s.created = append(s.created, conv)
	return nil
}

func (s *stubConversations) ListForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	if userID == "" {
		return nil, repo.ErrInvalidUserID
	}
	return nil, s.err
}

func newTestRouter(calls repo.CallRepository, convs repo.ConversationRepository) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewCallHandler(calls, convs)
	router.GET("/calls/:userId", h.GetUserCalls)
	router.GET("/conversations/:userId", h.GetUserConversations)
	router.POST("/conversations", h.CreateConversation)
	return router
}

func TestGetUserCallsReturnsPage(t *testing.T) {
	calls := &stubCalls{result: &db.PaginatedResult[model.CallRecord]{
		Data:  []model.CallRecord{{ConversationID: "conv-1", Outcome: "completed"}},
		Total: 1,
		Page:  1,
	}}
	router := newTestRouter(calls, &stubConversations{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/calls/tutor?page=1", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Calls db.PaginatedResult[model.CallRecord] `json:"calls"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Calls.Data, 1)
	assert.Equal(t, "completed", body.Calls.Data[0].Outcome)
}

func TestGetUserCallsRejectsBadPage(t *testing.T) {
	router := newTestRouter(&stubCalls{}, &stubConversations{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/calls/tutor?page=zero", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetUserCallsRepositoryFailure(t *testing.T) {
	router := newTestRouter(&stubCalls{err: errors.New("mongo down")}, &stubConversations{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/calls/tutor", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCreateConversationValidates(t *testing.T) {
	convs := &stubConversations{}
	router := newTestRouter(&stubCalls{}, convs)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations",
		strings.NewReader(`{"conversationId":"conv-1","memberIds":["tutor"]}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, convs.created)
}

func TestCreateConversationPersists(t *testing.T) {
	convs := &stubConversations{}
	router := newTestRouter(&stubCalls{}, convs)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations",
		strings.NewReader(`{"conversationId":"conv-1","subject":"algebra","memberIds":["tutor","student"]}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, convs.created, 1)
	assert.Equal(t, []string{"tutor", "student"}, convs.created[0].MemberIDs)
	assert.True(t, convs.created[0].IsActive)
}
