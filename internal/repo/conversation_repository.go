package repo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"Tutorlink/internal/db"
	"Tutorlink/internal/model"
)

var (
	ErrInvalidConversationID = errors.New("invalid conversation ID: cannot be empty")
	ErrConversationNotFound  = errors.New("conversation not found")
)

type conversationRepository struct {
	mongoRepo *db.Repository[model.Conversation]
	logger    *zap.Logger
}

type ConversationRepository interface {
	// Members satisfies the hub's ConversationDirectory.
	Members(ctx context.Context, conversationID string) ([]string, error)
	Get(ctx context.Context, conversationID string) (*model.Conversation, error)
	Create(ctx context.Context, conv model.Conversation) error
	ListForUser(ctx context.Context, userID string) ([]model.Conversation, error)
}

func NewConversationRepository(repo *db.Repository[model.Conversation], logger *zap.Logger) ConversationRepository {
	return &conversationRepository{mongoRepo: repo, logger: logger}
}

func (r *conversationRepository) Members(ctx context.Context, conversationID string) ([]string, error) {
	conv, err := r.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return conv.MemberIDs, nil
}

func (r *conversationRepository) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}

	filter := db.NewFilter().
		Eq("conversation_id", conversationID).
		Eq("is_active", true).
		Build()
	conv, err := r.mongoRepo.FindOne(ctx, filter)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrConversationNotFound
		}
		r.logger.Error("conversation lookup failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("get conversation failed: %w", err)
	}
	return conv, nil
}

func (r *conversationRepository) Create(ctx context.Context, conv model.Conversation) error {
	if conv.ConversationID == "" {
		return ErrInvalidConversationID
	}

	filter := db.NewFilter().Eq("conversation_id", conv.ConversationID).Build()
	exists, err := r.mongoRepo.Exists(ctx, filter)
	if err != nil {
		return fmt.Errorf("existence check failed: %w", err)
	}
	if exists {
		r.logger.Debug("conversation already exists",
			zap.String("conversation_id", conv.ConversationID),
		)
		return nil
	}

	if _, err := r.mongoRepo.Create(ctx, conv); err != nil {
		r.logger.Error("conversation insert failed",
			zap.String("conversation_id", conv.ConversationID),
			zap.Error(err),
		)
		return fmt.Errorf("create conversation failed: %w", err)
	}

	r.logger.Info("conversation created",
		zap.String("conversation_id", conv.ConversationID),
		zap.Strings("member_ids", conv.MemberIDs),
	)
	return nil
}

func (r *conversationRepository) ListForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	filter := db.NewFilter().
		In("member_ids", []string{userID}).
		Eq("is_active", true).
		Build()
	return r.mongoRepo.FindAll(ctx, filter)
}
