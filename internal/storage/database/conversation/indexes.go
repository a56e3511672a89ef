package conversation

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CreateIndexes 創建數據庫索引以優化查詢性能
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	// 消息集合索引
	messagesCollection := db.Collection("messages")

	// 1. 對話 ID + 創建時間複合索引（最重要的索引）
	conversationTimeIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "conversation_id", Value: 1},
			{Key: "created_at", Value: -1},
		},
		Options: options.Index().SetName("conversation_time_idx"),
	}

	// 2. 發送者 ID + 創建時間索引
	senderTimeIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "sender_id", Value: 1},
			{Key: "created_at", Value: -1},
		},
		Options: options.Index().SetName("sender_time_idx"),
	}

	messageIndexes := []mongo.IndexModel{
		conversationTimeIndex,
		senderTimeIndex,
	}

	if _, err := messagesCollection.Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return err
	}

	// 對話集合索引
	conversationsCollection := db.Collection("conversations")

	// 1. 參與者索引
	participantIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "participants", Value: 1},
		},
		Options: options.Index().SetName("participant_idx"),
	}

	// 2. 最後消息時間索引
	lastMessageIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "last_message_at", Value: -1},
		},
		Options: options.Index().SetName("last_message_idx"),
	}

	// 3. 外部 ID 索引
	idIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "id", Value: 1},
		},
		Options: options.Index().SetName("id_idx").SetUnique(true),
	}

	conversationIndexes := []mongo.IndexModel{
		participantIndex,
		lastMessageIndex,
		idIndex,
	}

	if _, err := conversationsCollection.Indexes().CreateMany(ctx, conversationIndexes); err != nil {
		return err
	}

	// 對話密鑰集合索引
	keysCollection := db.Collection("conversation_keys")

	// 每個對話只允許一份密鑰記錄
	conversationKeyIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "conversation_id", Value: 1},
		},
		Options: options.Index().SetName("conversation_key_idx").SetUnique(true),
	}

	if _, err := keysCollection.Indexes().CreateMany(ctx, []mongo.IndexModel{conversationKeyIndex}); err != nil {
		return err
	}

	return nil
}
