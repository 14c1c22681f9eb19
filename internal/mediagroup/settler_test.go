package mediagroup

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"bridgebot/internal/attachment"
	"bridgebot/internal/domain"
)

var chat = domain.Conversation{Key: domain.Key{Provider: domain.ProviderTelegram, ID: "1"}}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type collector struct {
	mu      sync.Mutex
	settled []Settled
	ch      chan Settled
}

func newCollector() *collector {
	return &collector{ch: make(chan Settled, 16)}
}

func (c *collector) onSettle(s Settled) {
	c.mu.Lock()
	c.settled = append(c.settled, s)
	c.mu.Unlock()
	c.ch <- s
}

func (c *collector) wait(t *testing.T, timeout time.Duration) Settled {
	t.Helper()
	select {
	case s := <-c.ch:
		return s
	case <-time.After(timeout):
		t.Fatal("timed out waiting for settlement")
		return Settled{}
	}
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.settled)
}

func photo(i int) attachment.Attachment {
	return attachment.NewPhoto(fmt.Sprintf("http://x/%d.jpg", i), attachment.FileInfo{}, nil)
}

func item(body string) *domain.Message {
	return domain.NewMessage(chat, nil, body, nil, nil)
}

func TestSettler_SettlesAfterQuietWindow(t *testing.T) {
	c := newCollector()
	s := New(Config{Window: 300 * time.Millisecond, OnSettle: c.onSettle, Logger: testLogger()})

	for i := 0; i < 3; i++ {
		s.Add("g1", item(""), photo(i))
		time.Sleep(100 * time.Millisecond)
	}

	got := c.wait(t, 2*time.Second)
	if len(got.Attachments) != 3 || got.Reason != ReasonQuiet {
		t.Fatalf("settled %d attachments (%s), want 3", len(got.Attachments), got.Reason)
	}
	for i, a := range got.Attachments {
		if a.URL() != fmt.Sprintf("http://x/%d.jpg", i) {
			t.Errorf("attachment %d out of order: %s", i, a.URL())
		}
	}

	time.Sleep(500 * time.Millisecond)
	if c.count() != 1 {
		t.Fatalf("expected exactly one settlement, got %d", c.count())
	}
	if s.Pending() != 0 {
		t.Fatal("group must be removed after settlement")
	}

	// A late arrival opens a fresh group.
	s.Add("g1", item(""), photo(3))
	if s.Pending() != 1 {
		t.Fatal("late arrival must open a new group")
	}
	late := c.wait(t, 2*time.Second)
	if len(late.Attachments) != 1 || late.Attachments[0].URL() != "http://x/3.jpg" {
		t.Errorf("late group = %v", late.Attachments)
	}
}

func TestSettler_SettlesWhenFull(t *testing.T) {
	c := newCollector()
	s := New(Config{Window: time.Second, MaxSize: 10, OnSettle: c.onSettle, Logger: testLogger()})

	for i := 0; i < 10; i++ {
		s.Add("g", item(""), photo(i))
	}
	full := c.wait(t, 100*time.Millisecond)
	if len(full.Attachments) != 10 || full.Reason != ReasonFull {
		t.Fatalf("settled %d (%s), want 10 full", len(full.Attachments), full.Reason)
	}

	s.Add("g", item(""), photo(10))
	rest := c.wait(t, 3*time.Second)
	if len(rest.Attachments) != 1 || rest.Attachments[0].URL() != "http://x/10.jpg" {
		t.Errorf("11th item must start a new group, got %v", rest.Attachments)
	}
	if c.count() != 2 {
		t.Errorf("expected 2 settlements, got %d", c.count())
	}
}

func TestSettler_KeepsCaptionMessage(t *testing.T) {
	c := newCollector()
	s := New(Config{Window: 50 * time.Millisecond, OnSettle: c.onSettle, Logger: testLogger()})

	s.Add("g", item(""), photo(0))
	s.Add("g", item("holiday"), photo(1))
	s.Add("g", item(""), photo(2))

	got := c.wait(t, time.Second)
	combined := got.Combined()
	if combined.Body() != "holiday" || len(combined.Attachments()) != 3 {
		t.Errorf("combined = %q with %d attachments", combined.Body(), len(combined.Attachments()))
	}
}

func TestSettler_CaptionLinksAndForwards(t *testing.T) {
	c := newCollector()
	s := New(Config{Window: 50 * time.Millisecond, OnSettle: c.onSettle, Logger: testLogger()})

	link := attachment.NewLink("https://example.com", "site", nil)
	s.Add("g", item(""), photo(0))
	s.Add("g", domain.NewMessage(chat, nil, "", nil, []attachment.Attachment{link}), photo(1), photo(2))

	combined := c.wait(t, time.Second).Combined()
	atts := combined.Attachments()
	if len(atts) != 4 {
		t.Fatalf("combined has %d attachments, want 4", len(atts))
	}
	if atts[3] != link {
		t.Errorf("link should follow the album items, got %v", atts[3])
	}

	inner := domain.NewMessage(chat, nil, "forwarded caption", nil, nil)
	wrap := domain.NewMessage(chat, nil, "", []*domain.Message{inner}, nil)
	s.Add("f", item(""), photo(0))
	s.Add("f", wrap, photo(1))
	got := c.wait(t, time.Second)
	if len(got.Message.Forwarded()) != 1 {
		t.Errorf("the message forwarding the caption should be kept")
	}
}

func TestSettler_GroupsAreIndependent(t *testing.T) {
	c := newCollector()
	s := New(Config{Window: 100 * time.Millisecond, OnSettle: c.onSettle, Logger: testLogger()})

	s.Add("a", item(""), photo(0))
	s.Add("b", item(""), photo(1))
	s.Add("a", item(""), photo(2))

	seen := map[string]int{}
	for i := 0; i < 2; i++ {
		st := c.wait(t, time.Second)
		seen[st.GroupID] = len(st.Attachments)
	}
	if seen["a"] != 2 || seen["b"] != 1 {
		t.Errorf("unexpected groups: %v", seen)
	}
}

func TestSettler_ConcurrentArrivalsSettleOnce(t *testing.T) {
	c := newCollector()
	s := New(Config{Window: 20 * time.Millisecond, MaxSize: 1000, OnSettle: c.onSettle, Logger: testLogger()})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(time.Duration(i%5) * time.Millisecond)
			s.Add("g", item(""), photo(i))
		}(i)
	}
	wg.Wait()

	total := 0
	deadline := time.After(2 * time.Second)
	for total < 50 {
		select {
		case st := <-c.ch:
			total += len(st.Attachments)
		case <-deadline:
			t.Fatalf("lost attachments: got %d of 50", total)
		}
	}
	time.Sleep(100 * time.Millisecond)
	if total != 50 || s.Pending() != 0 {
		t.Errorf("total=%d pending=%d", total, s.Pending())
	}
}

func TestSettler_Flush(t *testing.T) {
	c := newCollector()
	s := New(Config{Window: time.Hour, OnSettle: c.onSettle, Logger: testLogger()})
	s.Add("a", item(""), photo(0))
	s.Add("b", item(""), photo(1))

	s.Flush()
	if c.count() != 2 || s.Pending() != 0 {
		t.Errorf("flush settled %d, pending %d", c.count(), s.Pending())
	}
}
