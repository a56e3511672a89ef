package database

import (
	"context"

	"messenger-gateway/internal/platform/config"
	"messenger-gateway/internal/platform/logger"
	"messenger-gateway/internal/storage/database/conversation"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Repositories 倉儲集合.
type Repositories struct {
	Conversation *conversation.ConversationStore
	Message      *conversation.MessageStore
	Key          *conversation.KeyStore
}

// NewRepositories 創建倉儲集合.
func NewRepositories(cfg *config.Config) *Repositories {
	// 從 driver 包獲取 MongoDB 連接
	db := mongoDB
	if db == nil {
		return nil
	}

	// 創建索引以優化查詢性能
	ctx := context.Background()
	if err := conversation.CreateIndexes(ctx, db); err != nil {
		// 記錄錯誤但不中斷服務啟動
		logger.LogWarnf("Failed to create indexes: %v", err)
	}

	return &Repositories{
		Conversation: conversation.NewConversationStore(db),
		Message:      conversation.NewMessageStore(db),
		Key:          conversation.NewKeyStore(db),
	}
}

// 全局變數，用於存儲 MongoDB 連接
var mongoDB *mongo.Database

// SetMongoDB 設置 MongoDB 連接.
func SetMongoDB(db *mongo.Database) {
	mongoDB = db
}
