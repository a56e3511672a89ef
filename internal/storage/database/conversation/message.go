package conversation

import (
	"context"
	"time"

	"messenger-gateway/internal/platform/config"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessageRepository 消息倉儲接口
type MessageRepository interface {
	Create(ctx context.Context, message *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	GetByConversationID(ctx context.Context, conversationID string, limit int, cursor string) ([]*Message, string, bool, error)
	Delete(ctx context.Context, id string) error
}

// Message 消息數據模型
// 加密對話只存密文，Content 留空
type Message struct {
	_ID              interface{} `bson:"_id" form:"_id"`
	ID               string      `json:"id,omitempty" bson:"id" form:"id"`
	ConversationID   string      `bson:"conversation_id" json:"conversation_id"`
	SenderID         string      `bson:"sender_id" json:"sender_id"`
	Content          string      `bson:"content,omitempty" json:"content,omitempty"`
	EncryptedContent string      `bson:"encrypted_content,omitempty" json:"encrypted_content,omitempty"`
	IsEncrypted      bool        `bson:"is_encrypted" json:"is_encrypted"`
	Type             string      `bson:"type" json:"type"`
	Status           string      `bson:"status" json:"status"`
	CreatedAt        time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time   `bson:"updated_at" json:"updated_at"`
}

// NewMessage 創建新的 Message 實例
func NewMessage() Message {
	_id := bson.NewObjectID()
	now := time.Now().UTC()
	return Message{_ID: _id, ID: _id.Hex(), CreatedAt: now, UpdatedAt: now}
}

// MessageStore 消息存儲實作
type MessageStore struct {
	collection *mongo.Collection
}

// NewMessageStore 創建新的消息存儲
func NewMessageStore(db *mongo.Database) *MessageStore {
	return &MessageStore{
		collection: db.Collection("messages"),
	}
}

// Create 創建消息
func (s *MessageStore) Create(ctx context.Context, message *Message) error {
	_id := bson.NewObjectID()
	message._ID = _id
	message.ID = _id.Hex()
	message.CreatedAt = time.Now()
	message.UpdatedAt = time.Now()
	message.Status = "sent"
	if message.Type == "" {
		message.Type = "text"
	}

	_, err := s.collection.InsertOne(ctx, message)
	return err
}

// GetByID 根據 ID 獲取消息
func (s *MessageStore) GetByID(ctx context.Context, id string) (*Message, error) {
	objectID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	var message Message
	err = s.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&message)
	if err != nil {
		return nil, err
	}

	return &message, nil
}

// GetByConversationID 根據對話 ID 獲取消息
// 游標分頁，按創建時間倒序（新消息在前）
func (s *MessageStore) GetByConversationID(ctx context.Context, conversationID string, limit int, cursor string) ([]*Message, string, bool, error) {
	// 從配置讀取限制
	cfg := config.Get()
	defaultLimit := 20
	maxLimit := 100
	if cfg != nil {
		if cfg.Limits.Pagination.DefaultPageSize > 0 {
			defaultLimit = cfg.Limits.Pagination.DefaultPageSize
		}
		if cfg.Limits.Pagination.MaxPageSize > 0 {
			maxLimit = cfg.Limits.Pagination.MaxPageSize
		}
	}

	// 限制分頁大小，防止性能問題
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	filter := bson.M{"conversation_id": conversationID}

	// 如果有游標，添加游標條件（查找比游標時間更早的訊息）
	if cursor != "" {
		cursorTime, err := time.Parse(time.RFC3339, cursor)
		if err == nil {
			filter["created_at"] = bson.M{"$lt": cursorTime}
		}
	}

	opts := options.Find()
	opts.SetLimit(int64(limit + 1))                      // 多取一個用於判斷是否有更多
	opts.SetSort(bson.D{{Key: "created_at", Value: -1}}) // 按創建時間倒序排列（新消息在前）

	cursorResult, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, "", false, err
	}
	defer cursorResult.Close(ctx)

	var messages []*Message
	for cursorResult.Next(ctx) {
		var message Message
		if err := cursorResult.Decode(&message); err != nil {
			return nil, "", false, err
		}
		messages = append(messages, &message)
	}

	// 檢查是否有更多數據
	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit] // 移除多取的那一個
	}

	// 生成下一個游標
	var nextCursor string
	if hasMore && len(messages) > 0 {
		nextCursor = messages[len(messages)-1].CreatedAt.Format(time.RFC3339)
	}

	return messages, nextCursor, hasMore, nil
}

// Delete 刪除消息
func (s *MessageStore) Delete(ctx context.Context, id string) error {
	objectID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return err
	}

	_, err = s.collection.DeleteOne(ctx, bson.M{"_id": objectID})
	return err
}
