package repo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"Tutorlink/internal/db"
	"Tutorlink/internal/model"
)

var (
	ErrMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
	ErrInvalidRecord      = errors.New("invalid call record: record cannot be nil")
	ErrInvalidUserID      = errors.New("invalid user ID: cannot be empty")
	ErrOperationTimeout   = errors.New("operation timeout exceeded")
)

const (
	// Timeouts
	defaultWriteTimeout = 5 * time.Second
	defaultReadTimeout  = 30 * time.Second

	// Retry configuration
	maxRetries     = 3
	baseRetryDelay = 100 * time.Millisecond
	maxRetryDelay  = 2 * time.Second

	historyPageSize = 20
)

type callRepository struct {
	mongoRepo *db.Repository[model.CallRecord]
	logger    *zap.Logger

	// for idempotency - track in-flight operations
	inFlightOps     map[string]struct{}
	inFlightOpsLock sync.RWMutex
}

type CallRepository interface {
	Record(ctx context.Context, rec model.CallRecord) error
	ListUserCalls(ctx context.Context, userID string, page int64) (*db.PaginatedResult[model.CallRecord], error)
}

func NewCallRepository(repo *db.Repository[model.CallRecord], logger *zap.Logger) CallRepository {
	return &callRepository{
		mongoRepo:   repo,
		logger:      logger,
		inFlightOps: make(map[string]struct{}),
	}
}

// -----------------------------------------------------------------------------
// Record
// -----------------------------------------------------------------------------

// Record persists one finished call. A retried delivery of the same call
// (relay crash replay) is absorbed by the in-flight guard plus an
// existence check on conversation and start time.
func (c *callRepository) Record(ctx context.Context, rec model.CallRecord) error {
	if err := c.validateRecord(&rec); err != nil {
		return err
	}

	key := fmt.Sprintf("%s:%d", rec.ConversationID, rec.StartedAt.UnixMilli())
	if !c.tryAcquireInFlight(key) {
		return fmt.Errorf("duplicate operation in progress: %s", key)
	}
	defer c.releaseInFlight(key)

	ctx, cancel := c.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("conversation_id", rec.ConversationID).
		Eq("started_at", rec.StartedAt).
		Build()
	exists, err := c.mongoRepo.Exists(ctx, filter)
	if err != nil {
		return fmt.Errorf("existence check failed: %w", err)
	}
	if exists {
		c.logger.Debug("call record already exists",
			zap.String("conversation_id", rec.ConversationID),
		)
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.waitForRetry(ctx, attempt); err != nil {
				return err
			}
		}

		result, err := c.mongoRepo.Create(ctx, rec)
		if err == nil {
			insertedID := ""
			if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
				insertedID = oid.Hex()
			}
			c.logger.Info("call record inserted",
				zap.String("inserted_id", insertedID),
				zap.String("conversation_id", rec.ConversationID),
				zap.String("outcome", rec.Outcome),
				zap.Int("attempt", attempt+1),
			)
			return nil
		}

		lastErr = err
		if !c.isRetryableError(err) {
			break
		}
		c.logger.Warn("insert attempt failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxRetries),
		)
	}

	c.logger.Error("failed to insert call record after all retries",
		zap.Error(lastErr),
		zap.String("conversation_id", rec.ConversationID),
	)
	return fmt.Errorf("insert call record failed: %w", lastErr)
}

// -----------------------------------------------------------------------------
// ListUserCalls
// -----------------------------------------------------------------------------

// ListUserCalls pages through a user's history, newest first, covering
// calls the user placed and calls the user received.
func (c *callRepository) ListUserCalls(ctx context.Context, userID string, page int64) (*db.PaginatedResult[model.CallRecord], error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	ctx, cancel := c.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Or(
		db.NewFilter().Eq("caller_id", userID).Build(),
		db.NewFilter().Eq("callee_id", userID).Build(),
	).Build()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.waitForRetry(ctx, attempt); err != nil {
				return nil, err
			}
			c.logger.Warn("retrying call history read",
				zap.String("user_id", userID),
				zap.Int("attempt", attempt+1),
			)
		}

		result, err := c.mongoRepo.FindWithPagination(ctx, filter, db.PaginationParams{
			Page:     page,
			PageSize: historyPageSize,
			SortBy:   "started_at",
			SortDesc: true,
		})
		if err == nil {
			c.logger.Debug("call history read",
				zap.String("user_id", userID),
				zap.Int("count", len(result.Data)),
				zap.Int64("total", result.Total),
			)
			return result, nil
		}

		lastErr = err
		if !c.isRetryableError(err) {
			break
		}
	}

	return nil, c.handleReadError(lastErr, userID)
}

// -----------------------------------------------------------------------------
// Private Helper Methods
// -----------------------------------------------------------------------------

func (c *callRepository) tryAcquireInFlight(key string) bool {
	c.inFlightOpsLock.Lock()
	defer c.inFlightOpsLock.Unlock()

	if _, exists := c.inFlightOps[key]; exists {
		return false
	}
	c.inFlightOps[key] = struct{}{}
	return true
}

func (c *callRepository) releaseInFlight(key string) {
	c.inFlightOpsLock.Lock()
	defer c.inFlightOpsLock.Unlock()
	delete(c.inFlightOps, key)
}

func (c *callRepository) validateRecord(rec *model.CallRecord) error {
	if rec == nil || rec.ConversationID == "" || rec.CallerID == "" {
		return ErrInvalidRecord
	}
	return nil
}

func (c *callRepository) ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (c *callRepository) waitForRetry(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<uint(attempt)) * baseRetryDelay
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (c *callRepository) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return true
	}
	return false
}

func (c *callRepository) handleReadError(err error, userID string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		c.logger.Error("read timeout", zap.String("user_id", userID))
		return ErrOperationTimeout
	}
	if errors.Is(err, context.Canceled) {
		c.logger.Debug("read cancelled", zap.String("user_id", userID))
		return err
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	c.logger.Error("read failed", zap.Error(err), zap.String("user_id", userID))
	return fmt.Errorf("list user calls failed: %w", err)
}
