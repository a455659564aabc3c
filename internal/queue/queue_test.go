package queue

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"standin/internal/models"
	"standin/internal/persistence"
)

// testQueue creates a queue backed by a temporary database for testing.
func testQueue(t *testing.T) *DiskQueue {
	t.Helper()
	q, err := Open(Config{
		Name:        "test",
		CacheDir:    t.TempDir(),
		BusyTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("open test queue: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestSendReceiveAck(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	if err := q.SendMessage(ctx, "A"); err != nil {
		t.Fatalf("send: %v", err)
	}

	messages, err := q.ReceiveMessages(ctx, 1, 30*time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	msg := messages[0]
	if msg.Content != "A" {
		t.Fatalf("expected content A, got %q", msg.Content)
	}
	if msg.DequeueCount != 1 {
		t.Fatalf("expected dequeue count 1, got %d", msg.DequeueCount)
	}
	if len(msg.DeleteToken) != deleteTokenLength {
		t.Fatalf("expected %d-char delete token, got %q", deleteTokenLength, msg.DeleteToken)
	}

	if err := q.DeleteMessage(ctx, msg); err != nil {
		t.Fatalf("delete: %v", err)
	}

	remaining, err := q.ReceiveMessages(ctx, 1, 30*time.Second)
	if err != nil {
		t.Fatalf("receive after delete: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected no messages, got %d", len(remaining))
	}
}

func TestClaimedMessageIsHidden(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	if err := q.SendMessage(ctx, "hidden"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := q.ReceiveMessages(ctx, 1, 30*time.Second); err != nil {
		t.Fatalf("receive: %v", err)
	}

	again, err := q.ReceiveMessages(ctx, 1, 30*time.Second)
	if err != nil {
		t.Fatalf("second receive: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected claimed message to stay hidden, got %d", len(again))
	}
}

func TestRedeliveryAfterVisibilityTimeout(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	if err := q.SendMessage(ctx, "B"); err != nil {
		t.Fatalf("send: %v", err)
	}

	first, err := q.ReceiveMessages(ctx, 1, time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(first) != 1 || first[0].DequeueCount != 1 {
		t.Fatalf("expected one message with dequeue count 1, got %+v", first)
	}

	time.Sleep(1100 * time.Millisecond)

	second, err := q.ReceiveMessages(ctx, 1, 30*time.Second)
	if err != nil {
		t.Fatalf("receive after timeout: %v", err)
	}
	if len(second) != 1 {
		t.Fatalf("expected redelivery, got %d messages", len(second))
	}
	if second[0].Content != "B" {
		t.Fatalf("expected content B, got %q", second[0].Content)
	}
	if second[0].DequeueCount != 2 {
		t.Fatalf("expected dequeue count 2, got %d", second[0].DequeueCount)
	}
	if second[0].DeleteToken == first[0].DeleteToken {
		t.Fatal("expected a fresh delete token on redelivery")
	}

	// The first claim's token went stale when the message was reclaimed.
	if err := q.DeleteMessage(ctx, first[0]); !errors.Is(err, persistence.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound for stale token, got %v", err)
	}
	if err := q.DeleteMessage(ctx, second[0]); err != nil {
		t.Fatalf("delete with current token: %v", err)
	}
}

func TestDeleteMessageTwice(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	if err := q.SendMessage(ctx, "once"); err != nil {
		t.Fatalf("send: %v", err)
	}
	messages, err := q.ReceiveMessages(ctx, 1, 30*time.Second)
	if err != nil || len(messages) != 1 {
		t.Fatalf("receive: %v (%d messages)", err, len(messages))
	}

	if err := q.DeleteMessage(ctx, messages[0]); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := q.DeleteMessage(ctx, messages[0]); !errors.Is(err, persistence.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound on second delete, got %v", err)
	}
}

func TestDeleteUnknownMessage(t *testing.T) {
	q := testQueue(t)

	err := q.DeleteMessage(context.Background(), models.Message{MessageID: "999", DeleteToken: "nope"})
	if !errors.Is(err, persistence.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestReceiveHonorsMax(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	for _, content := range []string{"one", "two", "three"} {
		if err := q.SendMessage(ctx, content); err != nil {
			t.Fatalf("send %s: %v", content, err)
		}
	}

	batch, err := q.ReceiveMessages(ctx, 2, 30*time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(batch))
	}

	rest, err := q.ReceiveMessages(ctx, 5, 30*time.Second)
	if err != nil {
		t.Fatalf("receive rest: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected 1 remaining message, got %d", len(rest))
	}

	none, err := q.ReceiveMessages(ctx, 0, 30*time.Second)
	if err != nil {
		t.Fatalf("receive with max 0: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no messages for max 0, got %d", len(none))
	}
}

func TestConcurrentReceiveHasOneWinner(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	if err := q.SendMessage(ctx, "contested"); err != nil {
		t.Fatalf("send: %v", err)
	}

	const readers = 4
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed []models.Message
	)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			messages, err := q.ReceiveMessages(ctx, 1, 30*time.Second)
			if err != nil {
				t.Errorf("receive: %v", err)
				return
			}
			mu.Lock()
			claimed = append(claimed, messages...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(claimed) != 1 {
		t.Fatalf("expected exactly one reader to claim the message, got %d claims", len(claimed))
	}
}

func TestReceiveClaimsNothingOnTokenFailure(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	if err := q.SendMessage(ctx, "unclaimed"); err != nil {
		t.Fatalf("send: %v", err)
	}

	original := newDeleteToken
	newDeleteToken = func() (string, error) { return "", errors.New("entropy unavailable") }
	t.Cleanup(func() { newDeleteToken = original })

	if _, err := q.ReceiveMessages(ctx, 1, 30*time.Second); err == nil {
		t.Fatal("expected token generation error")
	}

	// No row was claimed, so the message is still immediately visible.
	newDeleteToken = original
	messages, err := q.ReceiveMessages(ctx, 1, 30*time.Second)
	if err != nil {
		t.Fatalf("receive after failure: %v", err)
	}
	if len(messages) != 1 || messages[0].DequeueCount != 1 {
		t.Fatalf("expected first claim of unclaimed message, got %+v", messages)
	}
}

func TestDeleteQueueRemovesBackingFiles(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	if err := q.SendMessage(ctx, "doomed"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := q.DeleteQueue(ctx); err != nil {
		t.Fatalf("delete queue: %v", err)
	}

	for _, path := range []string{q.dbPath, q.dbPath + "-wal", q.dbPath + "-shm"} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed, stat: %v", path, err)
		}
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	cfg := Config{Name: "persist", CacheDir: t.TempDir(), BusyTimeout: 5 * time.Second}
	ctx := context.Background()

	first, err := Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.SendMessage(ctx, "still here"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	messages, err := second.ReceiveMessages(ctx, 1, 30*time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(messages) != 1 || messages[0].Content != "still here" {
		t.Fatalf("expected persisted message, got %+v", messages)
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	if _, err := Open(Config{Name: "", CacheDir: t.TempDir()}); err == nil {
		t.Fatal("expected error for empty queue name")
	}
	if _, err := Open(Config{Name: "q", Table: "bad-table;", CacheDir: t.TempDir()}); err == nil {
		t.Fatal("expected error for invalid table name")
	}
}
