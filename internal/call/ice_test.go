package call

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/pion/webrtc/v4"
)

func testCandidate(n int) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate: fmt.Sprintf("candidate:%d 1 UDP 2122252543 192.0.2.1 %d typ host", n, 50000+n),
	}
}

func TestCandidateRelayRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil, WithRingTimeout(0))

	created, err := c.Initiate(ctx, "alice", "bob", CallTypeAudio)
	if err != nil {
		t.Fatal(err)
	}

	// Alice 提交兩條
	for i := 0; i < 2; i++ {
		if err := c.PushCandidate(ctx, created.CallID, "alice", testCandidate(i)); err != nil {
			t.Fatalf("PushCandidate failed: %v", err)
		}
	}

	// Bob 取走，順序保持 FIFO
	got, err := c.DrainCandidates(ctx, created.CallID, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(got))
	}
	if got[0].Candidate != testCandidate(0).Candidate {
		t.Error("Candidates should come out in FIFO order")
	}

	// 取走即清空
	again, err := c.DrainCandidates(ctx, created.CallID, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("Second drain should be empty, got %d", len(again))
	}
}

// 自己提交的 candidate 不會被自己取走
func TestDrainExcludesOwnCandidates(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil, WithRingTimeout(0))

	created, err := c.Initiate(ctx, "alice", "bob", CallTypeAudio)
	if err != nil {
		t.Fatal(err)
	}

	if err := c.PushCandidate(ctx, created.CallID, "alice", testCandidate(1)); err != nil {
		t.Fatal(err)
	}
	if err := c.PushCandidate(ctx, created.CallID, "bob", testCandidate(2)); err != nil {
		t.Fatal(err)
	}

	aliceGot, err := c.DrainCandidates(ctx, created.CallID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(aliceGot) != 1 || aliceGot[0].Candidate != testCandidate(2).Candidate {
		t.Errorf("Alice should only get Bob's candidate, got %+v", aliceGot)
	}

	// Alice 的 candidate 還在，等 Bob 來取
	bobGot, err := c.DrainCandidates(ctx, created.CallID, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(bobGot) != 1 || bobGot[0].Candidate != testCandidate(1).Candidate {
		t.Errorf("Bob should only get Alice's candidate, got %+v", bobGot)
	}
}

// 隊列滿時丟最舊的
func TestCandidateQueueBounded(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil, WithRingTimeout(0), WithMaxPendingCandidates(3))

	created, err := c.Initiate(ctx, "alice", "bob", CallTypeAudio)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if err := c.PushCandidate(ctx, created.CallID, "alice", testCandidate(i)); err != nil {
			t.Fatal(err)
		}
	}

	got, err := c.DrainCandidates(ctx, created.CallID, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("Queue should cap at 3, got %d", len(got))
	}
	// 留下的是最新的三條
	if got[0].Candidate != testCandidate(2).Candidate {
		t.Errorf("Oldest candidates should be dropped, first kept is %s", got[0].Candidate)
	}
}

func TestCandidateAccessControl(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil, WithRingTimeout(0))

	created, err := c.Initiate(ctx, "alice", "bob", CallTypeAudio)
	if err != nil {
		t.Fatal(err)
	}

	// 非參與者不能提交也不能取
	if err := c.PushCandidate(ctx, created.CallID, "mallory", testCandidate(1)); !errors.Is(err, ErrCallNotFound) {
		t.Errorf("Expected ErrCallNotFound, got %v", err)
	}
	if _, err := c.DrainCandidates(ctx, created.CallID, "mallory"); !errors.Is(err, ErrCallNotFound) {
		t.Errorf("Expected ErrCallNotFound, got %v", err)
	}

	// 不存在的通話
	if err := c.PushCandidate(ctx, "no-such-call", "alice", testCandidate(1)); !errors.Is(err, ErrCallNotFound) {
		t.Errorf("Expected ErrCallNotFound, got %v", err)
	}
}

// 通話結束後隊列一併清除
func TestCandidatesDroppedOnCallEnd(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil, WithRingTimeout(0))

	created, err := c.Initiate(ctx, "alice", "bob", CallTypeAudio)
	if err != nil {
		t.Fatal(err)
	}

	if err := c.PushCandidate(ctx, created.CallID, "alice", testCandidate(1)); err != nil {
		t.Fatal(err)
	}

	c.End(ctx, created.CallID)

	if _, err := c.DrainCandidates(ctx, created.CallID, "bob"); !errors.Is(err, ErrCallNotFound) {
		t.Errorf("Drain after end: expected ErrCallNotFound, got %v", err)
	}
}
