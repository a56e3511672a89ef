package conversation

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ConversationRepository 對話倉儲接口
type ConversationRepository interface {
	Create(ctx context.Context, conv *Conversation) error
	GetByID(ctx context.Context, id string) (*Conversation, error)
	ListUserConversations(ctx context.Context, userID string, limit int, cursor string) ([]*Conversation, string, bool, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	TouchLastMessage(ctx context.Context, conversationID, preview string) error
}

// Conversation 對話數據模型
type Conversation struct {
	_ID             interface{} `bson:"_id" form:"_id"`
	ID              string      `json:"id,omitempty" bson:"id" form:"id"`
	Type            string      `bson:"type" json:"type"` // direct | group
	Participants    []string    `bson:"participants" json:"participants"`
	CreatedAt       time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `bson:"updated_at" json:"updated_at"`
	LastMessageAt   time.Time   `bson:"last_message_at" json:"last_message_at"`
	LastMessage     string      `bson:"last_message" json:"last_message"`
	IsEncrypted     bool        `bson:"is_encrypted" json:"is_encrypted"`
}

// NewConversation 創建新的 Conversation 實例
func NewConversation() Conversation {
	_id := bson.NewObjectID()
	now := time.Now().UTC()
	return Conversation{_ID: _id, ID: _id.Hex(), CreatedAt: now, UpdatedAt: now, LastMessageAt: now}
}

// ConversationStore 對話存儲實作
type ConversationStore struct {
	collection *mongo.Collection
}

// NewConversationStore 創建新的對話存儲
func NewConversationStore(db *mongo.Database) *ConversationStore {
	return &ConversationStore{
		collection: db.Collection("conversations"),
	}
}

// Create 創建對話
func (s *ConversationStore) Create(ctx context.Context, conv *Conversation) error {
	_id := bson.NewObjectID()
	conv._ID = _id
	conv.ID = _id.Hex()
	conv.CreatedAt = time.Now()
	conv.UpdatedAt = time.Now()
	conv.LastMessageAt = time.Now()

	_, err := s.collection.InsertOne(ctx, conv)
	return err
}

// GetByID 根據 ID 獲取對話
func (s *ConversationStore) GetByID(ctx context.Context, id string) (*Conversation, error) {
	objectID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	var conv Conversation
	err = s.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListUserConversations 列出用戶的對話
func (s *ConversationStore) ListUserConversations(
	ctx context.Context, userID string, limit int, cursor string,
) (
	convs []*Conversation, nextCursor string, hasMore bool, err error,
) {
	filter := bson.M{
		"participants": userID,
	}

	opts := options.Find()
	opts.SetLimit(int64(limit + 1)) // 多取一個用於判斷是否有更多
	opts.SetSort(bson.D{{Key: "last_message_at", Value: -1}})

	// 如果有游標，添加游標條件
	if cursor != "" {
		cursorTime, parseErr := time.Parse(time.RFC3339, cursor)
		if parseErr == nil {
			filter["last_message_at"] = bson.M{"$lt": cursorTime}
		}
	}

	cursorResult, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, "", false, err
	}
	defer cursorResult.Close(ctx)

	convs = []*Conversation{}
	for cursorResult.Next(ctx) {
		var conv Conversation
		if err := cursorResult.Decode(&conv); err != nil {
			return nil, "", false, err
		}
		convs = append(convs, &conv)
	}

	// 檢查是否有更多數據
	hasMore = len(convs) > limit
	if hasMore {
		convs = convs[:limit] // 移除多取的那一個
	}

	// 生成下一個游標
	if hasMore && len(convs) > 0 {
		nextCursor = convs[len(convs)-1].LastMessageAt.Format(time.RFC3339)
	}

	return convs, nextCursor, hasMore, nil
}

// IsParticipant 檢查用戶是否是對話參與者
func (s *ConversationStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	count, err := s.collection.CountDocuments(ctx, bson.M{
		"id":           conversationID,
		"participants": userID,
	})
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// TouchLastMessage 更新對話的最後消息時間和預覽
// 預覽存的是密文或替代文字，明文不落庫
func (s *ConversationStore) TouchLastMessage(ctx context.Context, conversationID, preview string) error {
	now := time.Now()
	_, err := s.collection.UpdateOne(ctx, bson.M{"id": conversationID}, bson.M{
		"$set": bson.M{
			"last_message":    preview,
			"last_message_at": now,
			"updated_at":      now,
		},
	})
	return err
}
