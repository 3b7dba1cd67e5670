package chat

import (
	"fmt"
	"sync"
	"testing"
)

func TestAddAndGet(t *testing.T) {
	h := NewHistory(0)

	h.Add("conv1", Line{SenderID: "a", Text: "hello", Ts: 1})
	h.Add("conv1", Line{SenderID: "b", Text: "hi", Ts: 2})
	h.Add("conv1", Line{SenderID: "a", Text: "how are you?", Ts: 3})

	lines := h.Get("conv1")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	want := []string{"hello", "hi", "how are you?"}
	for i, w := range want {
		if lines[i].Text != w {
			t.Errorf("index %d: expected %q, got %q", i, w, lines[i].Text)
		}
	}
	if lines[1].SenderID != "b" {
		t.Errorf("expected sender b, got %q", lines[1].SenderID)
	}
}

func TestWraparound(t *testing.T) {
	h := NewHistory(DefaultHistorySize)

	// Add 7 lines; only 5 are kept.
	for i := 1; i <= 7; i++ {
		h.Add("conv1", Line{SenderID: "s", Text: fmt.Sprintf("msg-%d", i), Ts: int64(i)})
	}

	lines := h.Get("conv1")
	if len(lines) != DefaultHistorySize {
		t.Fatalf("expected %d lines, got %d", DefaultHistorySize, len(lines))
	}
	for i, l := range lines {
		expected := fmt.Sprintf("msg-%d", i+3)
		if l.Text != expected {
			t.Errorf("index %d: expected %q, got %q", i, expected, l.Text)
		}
	}
}

func TestCustomSize(t *testing.T) {
	h := NewHistory(2)
	h.Add("c", Line{Text: "1"})
	h.Add("c", Line{Text: "2"})
	h.Add("c", Line{Text: "3"})

	lines := h.Get("c")
	if len(lines) != 2 || lines[0].Text != "2" || lines[1].Text != "3" {
		t.Fatalf("unexpected lines: %+v", lines)
	}
}

func TestGetUnknownConversation(t *testing.T) {
	h := NewHistory(0)

	lines := h.Get("does-not-exist")
	if lines == nil {
		t.Fatal("expected non-nil empty slice, got nil")
	}
	if len(lines) != 0 {
		t.Fatalf("expected 0 lines, got %d", len(lines))
	}
}

func TestRemove(t *testing.T) {
	h := NewHistory(0)

	h.Add("conv1", Line{SenderID: "a", Text: "hello", Ts: 1})
	h.Add("conv2", Line{SenderID: "b", Text: "hi", Ts: 2})

	h.Remove("conv1")
	h.Remove("does-not-exist")

	if n := len(h.Get("conv1")); n != 0 {
		t.Fatalf("expected 0 lines after remove, got %d", n)
	}
	if h.Len() != 1 {
		t.Fatalf("expected 1 conversation left, got %d", h.Len())
	}
}

func TestMultipleConversations(t *testing.T) {
	h := NewHistory(0)

	h.Add("conv1", Line{SenderID: "a", Text: "c1-msg1", Ts: 1})
	h.Add("conv2", Line{SenderID: "b", Text: "c2-msg1", Ts: 2})
	h.Add("conv1", Line{SenderID: "b", Text: "c1-msg2", Ts: 3})

	l1 := h.Get("conv1")
	l2 := h.Get("conv2")
	if len(l1) != 2 || len(l2) != 1 {
		t.Fatalf("unexpected lengths: conv1=%d conv2=%d", len(l1), len(l2))
	}
	if l1[0].Text != "c1-msg1" || l1[1].Text != "c1-msg2" {
		t.Errorf("conv1 out of order: %+v", l1)
	}
}

func TestConcurrentAccess(t *testing.T) {
	h := NewHistory(0)
	const goroutines, perGoroutine = 100, 20

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for m := 0; m < perGoroutine; m++ {
				h.Add("conv", Line{SenderID: fmt.Sprintf("s-%d", id), Text: fmt.Sprintf("g%d-m%d", id, m)})
				_ = h.Get("conv")
			}
		}(g)
	}
	wg.Wait()

	if n := len(h.Get("conv")); n != DefaultHistorySize {
		t.Fatalf("expected %d lines after concurrent writes, got %d", DefaultHistorySize, n)
	}
}
