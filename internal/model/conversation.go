package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Conversation is one tutoring pairing. MemberIDs carries both parties;
// the relay resolves call and whiteboard routing from it.
type Conversation struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ConversationID string             `json:"conversationId" bson:"conversation_id"`
	Subject        string             `json:"subject,omitempty" bson:"subject,omitempty"`
	MemberIDs      []string           `json:"memberIds" bson:"member_ids"`
	IsActive       bool               `json:"isActive" bson:"is_active"`
	CreatedAt      time.Time          `json:"createdAt" bson:"created_at"`
}
