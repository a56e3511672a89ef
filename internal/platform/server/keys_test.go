package server

import (
	"testing"

	"messenger-gateway/internal/security/keymanager"
	"messenger-gateway/internal/storage/database/conversation"
)

func TestSelectWrappedKey(t *testing.T) {
	aliceEntry := conversation.ParticipantKey{
		UserID:           "alice",
		EncryptedKey:     "YWxpY2Uta2V5",
		EncryptionMethod: keymanager.MethodPassword,
	}
	bobEntry := conversation.ParticipantKey{
		UserID:           "bob",
		EncryptedKey:     "Ym9iLWtleQ==",
		EncryptionMethod: keymanager.MethodPassword,
	}
	carolPubEntry := conversation.ParticipantKey{
		UserID:           "carol",
		EncryptedKey:     "Y2Fyb2wta2V5",
		EncryptionMethod: keymanager.MethodPublicKey,
	}

	testCases := []struct {
		name       string
		keys       []conversation.ParticipantKey
		userID     string
		wantFound  bool
		wantUserID string
	}{
		{"Own entry preferred", []conversation.ParticipantKey{aliceEntry, bobEntry}, "bob", true, "bob"},
		// 自己還沒有條目時拿對方的口令包裝條目，雙方才能收斂到同一把密鑰
		{"Peer password entry when own missing", []conversation.ParticipantKey{aliceEntry}, "bob", true, "alice"},
		{"No entries", nil, "bob", false, ""},
		// publicKey 條目只有持有者本人解得開，不回給別人
		{"Peer publicKey entry not shared", []conversation.ParticipantKey{carolPubEntry}, "bob", false, ""},
		{"Own publicKey entry returned", []conversation.ParticipantKey{carolPubEntry}, "carol", true, "carol"},
		{"Password entry preferred over peer publicKey", []conversation.ParticipantKey{carolPubEntry, aliceEntry}, "bob", true, "alice"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pk, found := selectWrappedKey(tc.keys, tc.userID)
			if found != tc.wantFound {
				t.Fatalf("Expected found=%v, got %v", tc.wantFound, found)
			}
			if found && pk.UserID != tc.wantUserID {
				t.Errorf("Expected entry of %s, got %s", tc.wantUserID, pk.UserID)
			}
		})
	}
}
