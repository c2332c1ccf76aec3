package configuration

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"Tutorlink/internal/db"
	"Tutorlink/internal/hub"
	"Tutorlink/internal/model"
	"Tutorlink/internal/repo"
)

type Container struct {
	Hub              *hub.Hub
	CallRepo         repo.CallRepository
	ConversationRepo repo.ConversationRepository
	Config           Config
	Logger           *zap.Logger

	// private - for cleanup
	mongoClient *mongo.Database
}

func BuildContainer(configPath string) (*Container, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	con, err := db.OpenConnection(config.Database.Uri, config.Database.Database)
	if err != nil {
		return nil, err
	}

	callsRepo := db.NewRepository[model.CallRecord](con, config.Database.CallsCollection)
	conversationsRepo := db.NewRepository[model.Conversation](con, config.Database.ConversationsCollection)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = callsRepo.EnsureIndexes(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "caller_id", Value: 1}, {Key: "started_at", Value: -1}}},
		{Keys: bson.D{{Key: "callee_id", Value: 1}, {Key: "started_at", Value: -1}}},
	})
	if err != nil {
		logger.Warn("call history index creation failed", zap.Error(err))
	}
	err = conversationsRepo.EnsureIndexes(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}}},
	})
	if err != nil {
		logger.Warn("conversation index creation failed", zap.Error(err))
	}

	callRepo := repo.NewCallRepository(callsRepo, logger)
	conversationRepo := repo.NewConversationRepository(conversationsRepo, logger)

	minter := hub.NewHMACMinter(config.Grant.Secret, config.GrantTTL())
	router := hub.NewCallRouter(conversationRepo, minter, callRepo, logger)
	h := hub.NewHub(router, logger)

	return &Container{
		Hub:              h,
		CallRepo:         callRepo,
		ConversationRepo: conversationRepo,
		Config:           *config,
		Logger:           logger,
		mongoClient:      con,
	}, nil
}

// Close gracefully shuts down all connections
func (c *Container) Close() error {
	// Stop the hub first (closes all WebSocket connections)
	if c.Hub != nil {
		c.Hub.Stop()
	}

	if c.Logger != nil {
		_ = c.Logger.Sync()
	}

	if c.mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.mongoClient.Client().Disconnect(ctx); err != nil {
			return fmt.Errorf("failed to close MongoDB connection: %w", err)
		}
	}

	return nil
}
