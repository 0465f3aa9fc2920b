package gocache

import (
	"context"
	"testing"
	"time"

	"github.com/tradegate/customs-copilot/cache"
	"github.com/tradegate/customs-copilot/message"
)

func TestRoundTrip(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	defer c.Close()
	ctx := context.Background()

	payload := &cache.Payload{
		Text:      "관세법 제50조에 따라 세율이 적용됩니다.",
		AgentUsed: "statute",
		Citations: []message.Citation{
			{SourceID: "s-50", Title: "관세법 제50조", Score: 0.9},
		},
		Confidence: 0.9,
		CreatedAt:  time.Now().UTC(),
	}

	if err := c.Put(ctx, "k1", payload, time.Minute); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected hit")
	}
	if got.Text != payload.Text {
		t.Errorf("unexpected text %q", got.Text)
	}
	if len(got.Citations) != 1 || got.Citations[0].SourceID != "s-50" {
		t.Errorf("citations lost: %+v", got.Citations)
	}
}

func TestMissReturnsNil(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	defer c.Close()

	got, err := c.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected miss, got %+v", got)
	}
}

func TestExpiredEntryNotReturned(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	defer c.Close()
	ctx := context.Background()

	payload := &cache.Payload{Text: "일시적 답변"}
	if err := c.Put(ctx, "k1", payload, 10*time.Millisecond); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	got, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected expired entry to be a miss, got %+v", got)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	defer c.Close()
	ctx := context.Background()

	if err := c.Put(ctx, "k1", &cache.Payload{Text: "원본"}, time.Minute); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	first, _ := c.Get(ctx, "k1")
	first.Text = "변조"

	second, _ := c.Get(ctx, "k1")
	if second.Text != "원본" {
		t.Errorf("cached payload mutated through returned pointer")
	}
}
