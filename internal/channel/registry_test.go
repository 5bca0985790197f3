package channel

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newTestRegistry(queueSize int) *Registry {
	return NewRegistry(queueSize, slog.New(slog.DiscardHandler))
}

func TestOpenAssignsUniqueIDs(t *testing.T) {
	r := newTestRegistry(4)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		ch := r.Open()
		if ch.ID() == "" {
			t.Fatal("empty client id")
		}
		if seen[ch.ID()] {
			t.Fatalf("duplicate client id %s", ch.ID())
		}
		seen[ch.ID()] = true
	}
	if r.Len() != 50 {
		t.Errorf("Len = %d, want 50", r.Len())
	}
}

func TestOpenQueuesConnectionEvent(t *testing.T) {
	r := newTestRegistry(4)
	ch := r.Open()

	msg := <-ch.Queue()
	if msg.Event != EventConnection {
		t.Fatalf("first event = %s, want connection", msg.Event)
	}
	data, ok := msg.Data.(map[string]any)
	if !ok {
		t.Fatalf("connection data type %T", msg.Data)
	}
	if data["client_id"] != ch.ID() {
		t.Errorf("connection client_id = %v, want %s", data["client_id"], ch.ID())
	}
}

func TestEnqueuePreservesOrder(t *testing.T) {
	r := newTestRegistry(16)
	ch := r.Open()
	<-ch.Queue() // connection event

	for i := 0; i < 5; i++ {
		err := r.Enqueue(ch.ID(), Message{ID: string(rune('a' + i)), Event: EventResult})
		if err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}
	for i := 0; i < 5; i++ {
		msg := <-ch.Queue()
		if msg.ID != string(rune('a'+i)) {
			t.Fatalf("message %d id = %s, out of order", i, msg.ID)
		}
	}
}

func TestEnqueueUnknownClient(t *testing.T) {
	r := newTestRegistry(4)
	if err := r.Enqueue("nope", Message{Event: EventResult}); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestEnqueueAfterCloseIsSilentDrop(t *testing.T) {
	r := newTestRegistry(4)
	ch := r.Open()
	id := ch.ID()
	r.Close(id)

	// The registry no longer knows the id.
	if err := r.Enqueue(id, Message{Event: EventResult}); err != ErrNotFound {
		t.Errorf("registry enqueue err = %v, want ErrNotFound", err)
	}
	// A holder of the channel itself gets a silent no-op.
	if err := ch.enqueue(Message{Event: EventResult}); err != nil {
		t.Errorf("direct enqueue after close err = %v, want nil", err)
	}
}

func TestEnqueueSaturatedQueue(t *testing.T) {
	r := newTestRegistry(2)
	ch := r.Open()
	// Queue holds the connection event plus one more.
	if err := r.Enqueue(ch.ID(), Message{Event: EventResult}); err != nil {
		t.Fatalf("fill enqueue: %v", err)
	}
	if err := r.Enqueue(ch.ID(), Message{Event: EventResult}); err != ErrQueueSaturated {
		t.Errorf("err = %v, want ErrQueueSaturated", err)
	}
	if ch.Closed() {
		t.Error("saturation must not close the channel")
	}
}

func TestTouchUpdatesLastActive(t *testing.T) {
	r := newTestRegistry(4)
	ch := r.Open()
	before := ch.LastActive()

	time.Sleep(5 * time.Millisecond)
	r.Touch(ch.ID())
	if !ch.LastActive().After(before) {
		t.Error("Touch did not advance LastActive")
	}

	// Touching an unknown or closed channel is a no-op.
	r.Touch("unknown")
	r.Close(ch.ID())
	stamp := ch.LastActive()
	r.Touch(ch.ID())
	if ch.LastActive() != stamp {
		t.Error("Touch moved LastActive on a closed channel")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	r := newTestRegistry(4)
	ch := r.Open()
	r.Close(ch.ID())
	r.Close(ch.ID())
	r.Close("unknown")
	if !ch.Closed() {
		t.Error("channel not closed")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestCloseEndsQueueDrain(t *testing.T) {
	r := newTestRegistry(4)
	ch := r.Open()
	r.Close(ch.ID())

	// Drain: connection event then closed channel.
	var events []string
	for msg := range ch.Queue() {
		events = append(events, string(msg.Event))
	}
	if strings.Join(events, ",") != "connection" {
		t.Errorf("drained events = %v", events)
	}
}

func TestCloseAll(t *testing.T) {
	r := newTestRegistry(4)
	chans := make([]*ClientChannel, 3)
	for i := range chans {
		chans[i] = r.Open()
	}
	r.CloseAll()
	if r.Len() != 0 {
		t.Errorf("Len = %d after CloseAll", r.Len())
	}
	for i, ch := range chans {
		if !ch.Closed() {
			t.Errorf("channel %d still open", i)
		}
	}
}

func TestEncodeSSE(t *testing.T) {
	msg := Message{ID: "call-1", Event: EventResult, Data: map[string]any{"ok": true}}
	frame, err := msg.EncodeSSE()
	if err != nil {
		t.Fatal(err)
	}
	want := "id: call-1\nevent: result\ndata: {\"ok\":true}\n\n"
	if string(frame) != want {
		t.Errorf("frame = %q, want %q", frame, want)
	}

	hb := Message{Event: EventHeartbeat, Data: map[string]any{"ts": 1}}
	frame, err = hb.EncodeSSE()
	if err != nil {
		t.Fatal(err)
	}
	if strings.HasPrefix(string(frame), "id:") {
		t.Error("heartbeat frame must not carry an id line")
	}
}
