package correlate

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

const testChat = "15551234567@s.whatsapp.net"

func newTestEngine() *Engine {
	return NewEngine(zap.NewNop())
}

func TestOfferResolvesWait(t *testing.T) {
	e := newTestEngine()

	ch, err := e.RegisterWait(testChat, testChat, time.Second)
	if err != nil {
		t.Fatalf("RegisterWait() error = %v", err)
	}

	if !e.Offer(testChat, "yes") {
		t.Fatal("Offer() = false, want match")
	}

	select {
	case out := <-ch:
		if out.Err != nil {
			t.Fatalf("outcome error = %v", out.Err)
		}
		if out.Text != "yes" {
			t.Errorf("text = %q, want %q", out.Text, "yes")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for outcome")
	}

	// A second offer after resolution is a no-op.
	if e.Offer(testChat, "again") {
		t.Error("second Offer() = true, want false")
	}
	if e.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", e.Pending())
	}
}

func TestDuplicateKeyFailsFast(t *testing.T) {
	e := newTestEngine()

	if _, err := e.RegisterWait(testChat, testChat, time.Second); err != nil {
		t.Fatal(err)
	}
	_, err := e.RegisterWait(testChat, testChat, time.Second)
	if !errors.Is(err, ErrAlreadyWaiting) {
		t.Errorf("second RegisterWait() error = %v, want ErrAlreadyWaiting", err)
	}
	// The first waiter is still live.
	if e.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", e.Pending())
	}
	if !e.Offer(testChat, "hi") {
		t.Error("first waiter no longer matchable")
	}
}

func TestTimeoutSettlesWaiter(t *testing.T) {
	e := newTestEngine()

	ch, err := e.RegisterWait(testChat, testChat, 20*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	select {
	case out := <-ch:
		var te *TimeoutError
		if !errors.As(out.Err, &te) {
			t.Fatalf("outcome error = %v, want TimeoutError", out.Err)
		}
		if te.Elapsed <= 0 {
			t.Errorf("Elapsed = %v, want > 0", te.Elapsed)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}

	// A late offer observes the waiter already gone.
	if e.Offer(testChat, "too late") {
		t.Error("Offer() after timeout = true, want false")
	}
}

// TestTimeoutOfferRace drives a deadline and a matching offer at the same
// instant many times over: exactly one side must win, and the waiter must
// settle exactly once.
func TestTimeoutOfferRace(t *testing.T) {
	e := newTestEngine()

	for i := 0; i < 200; i++ {
		ch, err := e.RegisterWait(testChat, testChat, time.Millisecond)
		if err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			e.Offer(testChat, "racer")
		}()

		var outcomes []Outcome
		outcomes = append(outcomes, <-ch)
		// The channel is buffered 1; a double settle would leave a second
		// outcome behind.
		select {
		case out := <-ch:
			outcomes = append(outcomes, out)
		case <-time.After(5 * time.Millisecond):
		}
		wg.Wait()

		if len(outcomes) != 1 {
			t.Fatalf("iteration %d: waiter settled %d times", i, len(outcomes))
		}
		if e.Pending() != 0 {
			t.Fatalf("iteration %d: Pending = %d after settle", i, e.Pending())
		}
	}
}

func TestWildcardMatchesLastSentOnly(t *testing.T) {
	e := newTestEngine()

	chatA := "11111111111@s.whatsapp.net"
	chatB := "22222222222@s.whatsapp.net"

	e.NoteSend(chatA)
	e.NoteSend(chatB)

	ch, err := e.RegisterWait(WildcardKey, "", time.Second)
	if err != nil {
		t.Fatal(err)
	}

	// A reply from A (an earlier send target) must not match.
	if e.Offer(chatA, "from A") {
		t.Error("wildcard matched a chat that is not the last send target")
	}

	if !e.Offer(chatB, "from B") {
		t.Fatal("wildcard did not match the last send target")
	}
	out := <-ch
	if out.Text != "from B" {
		t.Errorf("text = %q, want %q", out.Text, "from B")
	}
}

func TestExactKeyPreferredOverWildcard(t *testing.T) {
	e := newTestEngine()
	e.NoteSend(testChat)

	exactCh, err := e.RegisterWait(testChat, testChat, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	wildCh, err := e.RegisterWait(WildcardKey, "", time.Second)
	if err != nil {
		t.Fatal(err)
	}

	if !e.Offer(testChat, "hello") {
		t.Fatal("no match")
	}

	select {
	case out := <-exactCh:
		if out.Text != "hello" {
			t.Errorf("exact waiter text = %q", out.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("exact waiter not settled")
	}
	select {
	case out := <-wildCh:
		t.Errorf("wildcard waiter settled: %+v", out)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCancelRemovesWaiter(t *testing.T) {
	e := newTestEngine()

	ch, err := e.RegisterWait(testChat, testChat, 30*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	e.Cancel(testChat)

	if e.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", e.Pending())
	}
	if e.Offer(testChat, "x") {
		t.Error("Offer matched a cancelled waiter")
	}

	// The key is free for re-registration, and the cancelled waiter's
	// stale timer must not settle the new one.
	ch2, err := e.RegisterWait(testChat, testChat, time.Second)
	if err != nil {
		t.Fatalf("re-register after cancel: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	select {
	case out := <-ch2:
		t.Fatalf("new waiter settled by stale timer: %+v", out)
	default:
	}
	select {
	case out := <-ch:
		t.Fatalf("cancelled waiter settled: %+v", out)
	default:
	}
}

func TestLastSentEmptyByDefault(t *testing.T) {
	e := newTestEngine()
	if got := e.LastSent(); got != "" {
		t.Errorf("LastSent = %q, want empty", got)
	}
}
