package conversation

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// KeyRepository 對話密鑰倉儲接口
type KeyRepository interface {
	GetOrCreate(ctx context.Context, conversationID string) (*ConversationKey, error)
	SetParticipantKey(ctx context.Context, conversationID, userID, encryptedKey, method string) error
	RotateKeys(ctx context.Context, conversationID string) error
}

// ConversationKey 對話密鑰數據模型
// 每個對話一份文檔，存每個參與者自己包裝後的密鑰，明文密鑰不落庫
type ConversationKey struct {
	_ID             interface{}      `bson:"_id,omitempty"`
	ConversationID  string           `bson:"conversation_id" json:"conversation_id"`
	ParticipantKeys []ParticipantKey `bson:"participant_keys" json:"participant_keys"`
	CreatedAt       time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `bson:"updated_at" json:"updated_at"`
	RotatedAt       *time.Time       `bson:"rotated_at,omitempty" json:"rotated_at,omitempty"`
}

// ParticipantKey 單個參與者的包裝密鑰
type ParticipantKey struct {
	UserID           string    `bson:"user_id" json:"user_id"`
	EncryptedKey     string    `bson:"encrypted_key" json:"encrypted_key"`
	EncryptionMethod string    `bson:"encryption_method" json:"encryption_method"`
	CreatedAt        time.Time `bson:"created_at" json:"created_at"`
}

// KeyStore 對話密鑰存儲實作
type KeyStore struct {
	collection *mongo.Collection
}

// NewKeyStore 創建對話密鑰存儲
func NewKeyStore(db *mongo.Database) *KeyStore {
	return &KeyStore{
		collection: db.Collection("conversation_keys"),
	}
}

// GetOrCreate 取得對話密鑰記錄，首次訪問時懶建立
func (s *KeyStore) GetOrCreate(ctx context.Context, conversationID string) (*ConversationKey, error) {
	var key ConversationKey
	err := s.collection.FindOne(ctx, bson.M{"conversation_id": conversationID}).Decode(&key)
	if err == nil {
		return &key, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	now := time.Now()
	key = ConversationKey{
		ConversationID:  conversationID,
		ParticipantKeys: []ParticipantKey{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err = s.collection.InsertOne(ctx, &key)
	if err != nil {
		// 唯一索引衝突表示別的請求剛建立了記錄，直接讀回來
		if mongo.IsDuplicateKeyError(err) {
			var existing ConversationKey
			if findErr := s.collection.FindOne(ctx, bson.M{"conversation_id": conversationID}).Decode(&existing); findErr != nil {
				return nil, findErr
			}
			return &existing, nil
		}
		return nil, err
	}

	return &key, nil
}

// SetParticipantKey 寫入參與者的包裝密鑰
// 已有條目時覆蓋，不會產生重複條目
func (s *KeyStore) SetParticipantKey(ctx context.Context, conversationID, userID, encryptedKey, method string) error {
	if _, err := s.GetOrCreate(ctx, conversationID); err != nil {
		return err
	}

	now := time.Now()

	// 先嘗試覆蓋既有條目
	result, err := s.collection.UpdateOne(ctx,
		bson.M{
			"conversation_id":           conversationID,
			"participant_keys.user_id":  userID,
		},
		bson.M{
			"$set": bson.M{
				"participant_keys.$.encrypted_key":     encryptedKey,
				"participant_keys.$.encryption_method": method,
				"updated_at":                           now,
			},
		},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount > 0 {
		return nil
	}

	// 沒有既有條目，追加新條目
	_, err = s.collection.UpdateOne(ctx,
		bson.M{"conversation_id": conversationID},
		bson.M{
			"$push": bson.M{
				"participant_keys": ParticipantKey{
					UserID:           userID,
					EncryptedKey:     encryptedKey,
					EncryptionMethod: method,
					CreatedAt:        now,
				},
			},
			"$set": bson.M{"updated_at": now},
		},
	)
	return err
}

// RotateKeys 輪換對話密鑰
// 清空所有參與者條目，下次取密鑰時各方重新上傳
func (s *KeyStore) RotateKeys(ctx context.Context, conversationID string) error {
	now := time.Now()
	result, err := s.collection.UpdateOne(ctx,
		bson.M{"conversation_id": conversationID},
		bson.M{
			"$set": bson.M{
				"participant_keys": []ParticipantKey{},
				"rotated_at":       now,
				"updated_at":       now,
			},
		},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		// 沒有記錄可輪換時視為成功，結果一樣是沒有任何參與者密鑰
		return nil
	}
	return nil
}
