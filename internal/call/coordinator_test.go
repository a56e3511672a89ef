package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCallLifecycle(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil, WithRingTimeout(0))

	// 發起
	created, err := c.Initiate(ctx, "alice", "bob", CallTypeVideo)
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if created.Status != StatusRinging {
		t.Errorf("New call should be ringing, got %s", created.Status)
	}
	if created.CallerID != "alice" || created.ReceiverID != "bob" {
		t.Errorf("Unexpected participants: %+v", created)
	}

	// 被叫方看得到來電
	incoming := c.ListIncoming("bob")
	if len(incoming) != 1 || incoming[0].CallID != created.CallID {
		t.Fatalf("Bob should see exactly one incoming call, got %d", len(incoming))
	}

	// 接聽
	accepted, err := c.Accept(ctx, created.CallID, "bob")
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if accepted.Status != StatusAccepted {
		t.Errorf("Accepted call should be accepted, got %s", accepted.Status)
	}

	// 接聽後不再出現在來電列表
	if len(c.ListIncoming("bob")) != 0 {
		t.Error("Accepted call should not appear as incoming")
	}

	// 狀態查詢
	current, err := c.Status(created.CallID)
	if err != nil {
		t.Fatal(err)
	}
	if current.Status != StatusAccepted {
		t.Errorf("Status should report accepted, got %s", current.Status)
	}

	// 結束
	c.End(ctx, created.CallID)
	if _, err := c.Status(created.CallID); !errors.Is(err, ErrCallNotFound) {
		t.Errorf("Ended call should be gone, got %v", err)
	}
}

func TestInitiateValidation(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil, WithRingTimeout(0))

	testCases := []struct {
		name     string
		caller   string
		receiver string
		callType CallType
		wantErr  error
	}{
		{"Invalid type", "alice", "bob", CallType("screen"), ErrInvalidCallType},
		{"Empty type", "alice", "bob", CallType(""), ErrInvalidCallType},
		{"Audio ok", "alice", "bob", CallTypeAudio, nil},
		{"Video ok", "alice", "bob", CallTypeVideo, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Initiate(ctx, tc.caller, tc.receiver, tc.callType)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Errorf("Expected %v, got %v", tc.wantErr, err)
				}
			} else if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestAcceptAuthorization(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil, WithRingTimeout(0))

	created, err := c.Initiate(ctx, "alice", "bob", CallTypeAudio)
	if err != nil {
		t.Fatal(err)
	}

	// 主叫方不能接聽自己發起的通話
	if _, err := c.Accept(ctx, created.CallID, "alice"); !errors.Is(err, ErrNotCallReceiver) {
		t.Errorf("Caller accepting own call: expected ErrNotCallReceiver, got %v", err)
	}

	// 第三者也不能接聽
	if _, err := c.Accept(ctx, created.CallID, "mallory"); !errors.Is(err, ErrNotCallReceiver) {
		t.Errorf("Third party accepting call: expected ErrNotCallReceiver, got %v", err)
	}

	// 通話應還在響鈴，被叫方仍可接聽
	if _, err := c.Accept(ctx, created.CallID, "bob"); err != nil {
		t.Errorf("Receiver should still be able to accept: %v", err)
	}

	// 已接聽的通話不能再接聽
	if _, err := c.Accept(ctx, created.CallID, "bob"); !errors.Is(err, ErrCallNotFound) {
		t.Errorf("Second accept: expected ErrCallNotFound, got %v", err)
	}
}

func TestUnknownCall(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil, WithRingTimeout(0))

	if _, err := c.Accept(ctx, "no-such-call", "bob"); !errors.Is(err, ErrCallNotFound) {
		t.Errorf("Expected ErrCallNotFound, got %v", err)
	}
	if _, err := c.Status("no-such-call"); !errors.Is(err, ErrCallNotFound) {
		t.Errorf("Expected ErrCallNotFound, got %v", err)
	}

	// 拒接和結束對不存在的通話是冪等的，不 panic
	c.Reject(ctx, "no-such-call")
	c.End(ctx, "no-such-call")
}

func TestRejectAndEndIdempotent(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil, WithRingTimeout(0))

	created, err := c.Initiate(ctx, "alice", "bob", CallTypeAudio)
	if err != nil {
		t.Fatal(err)
	}

	c.Reject(ctx, created.CallID)
	c.Reject(ctx, created.CallID) // 第二次也不報錯
	c.End(ctx, created.CallID)

	if _, err := c.Status(created.CallID); !errors.Is(err, ErrCallNotFound) {
		t.Errorf("Rejected call should be gone, got %v", err)
	}
}

func TestRingTimeoutExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil, WithRingTimeout(30*time.Millisecond))

	created, err := c.Initiate(ctx, "alice", "bob", CallTypeAudio)
	if err != nil {
		t.Fatal(err)
	}

	// 等超時觸發
	time.Sleep(120 * time.Millisecond)

	if _, err := c.Status(created.CallID); !errors.Is(err, ErrCallNotFound) {
		t.Errorf("Unanswered call should expire, got %v", err)
	}
	if len(c.ListIncoming("bob")) != 0 {
		t.Error("Expired call should not appear as incoming")
	}
}

// 響鈴期間接聽的通話不會被超時清掉
func TestAcceptCancelsRingTimeout(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil, WithRingTimeout(60*time.Millisecond))

	created, err := c.Initiate(ctx, "alice", "bob", CallTypeAudio)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Accept(ctx, created.CallID, "bob"); err != nil {
		t.Fatal(err)
	}

	time.Sleep(150 * time.Millisecond)

	current, err := c.Status(created.CallID)
	if err != nil {
		t.Fatalf("Accepted call should survive the ring timeout: %v", err)
	}
	if current.Status != StatusAccepted {
		t.Errorf("Expected accepted, got %s", current.Status)
	}
}

// 並發接聽同一通電話只會有一個成功
func TestConcurrentAcceptSingleWinner(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil, WithRingTimeout(0))

	created, err := c.Initiate(ctx, "alice", "bob", CallTypeAudio)
	if err != nil {
		t.Fatal(err)
	}

	const workers = 10
	var wg sync.WaitGroup
	results := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, results[idx] = c.Accept(ctx, created.CallID, "bob")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else if !errors.Is(err, ErrCallNotFound) {
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Errorf("Exactly one accept should win, got %d", winners)
	}
}

func TestListIncomingFiltersByReceiver(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil, WithRingTimeout(0), WithClock(func() time.Time { return time.Now() }))

	if _, err := c.Initiate(ctx, "alice", "bob", CallTypeAudio); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Initiate(ctx, "carol", "bob", CallTypeVideo); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Initiate(ctx, "alice", "dave", CallTypeAudio); err != nil {
		t.Fatal(err)
	}

	if got := len(c.ListIncoming("bob")); got != 2 {
		t.Errorf("Bob should have 2 incoming calls, got %d", got)
	}
	if got := len(c.ListIncoming("dave")); got != 1 {
		t.Errorf("Dave should have 1 incoming call, got %d", got)
	}
	if got := len(c.ListIncoming("alice")); got != 0 {
		t.Errorf("Alice is the caller, should have 0 incoming, got %d", got)
	}
}

func TestNewCallID(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	id := NewCallID("alice", "bob", now)
	want := "alice-bob-1700000000123"
	if id != want {
		t.Errorf("NewCallID mismatch: got %s, want %s", id, want)
	}
}
