package schedule

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/basket/geomcp/internal/channel"
	"github.com/basket/geomcp/internal/dispatch"
	"github.com/basket/geomcp/internal/functions"
	"github.com/basket/geomcp/internal/persistence"
)

func waitFor(t *testing.T, deadline time.Duration, check func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

type harness struct {
	store     *persistence.Store
	channels  *channel.Registry
	scheduler *Scheduler
}

func newHarness(t *testing.T, h functions.Handler) *harness {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	store, err := persistence.Open(filepath.Join(t.TempDir(), "geomcp.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	fr := functions.NewRegistry()
	if err := fr.Register("record_call", "test function", json.RawMessage(`{"type": "object"}`), h); err != nil {
		t.Fatal(err)
	}
	channels := channel.NewRegistry(16, logger)
	d := dispatch.New(fr, channels, time.Second, logger, nil)

	return &harness{
		store:    store,
		channels: channels,
		scheduler: NewScheduler(Config{
			Store:      store,
			Dispatcher: d,
			Channels:   channels,
			Logger:     logger,
			Interval:   20 * time.Millisecond,
		}),
	}
}

func insertDue(t *testing.T, store *persistence.Store, name string) *persistence.Schedule {
	t.Helper()
	past := time.Now().Add(-time.Minute).UTC()
	sched := &persistence.Schedule{
		ID:         uuid.NewString(),
		Name:       name,
		CronExpr:   "*/5 * * * *",
		Function:   "record_call",
		ParamsJSON: `{"tag": "scheduled"}`,
		Enabled:    true,
		NextRunAt:  &past,
	}
	if err := store.InsertSchedule(context.Background(), sched); err != nil {
		t.Fatal(err)
	}
	return sched
}

func TestSchedulerFiresDueSchedule(t *testing.T) {
	ran := make(chan map[string]any, 1)
	h := newHarness(t, func(_ context.Context, p map[string]any) (any, error) {
		select {
		case ran <- p:
		default:
		}
		return map[string]any{"ok": true}, nil
	})
	sched := insertDue(t, h.store, "due")

	h.scheduler.Start(context.Background())
	defer h.scheduler.Stop()

	select {
	case p := <-ran:
		if p["tag"] != "scheduled" {
			t.Errorf("params = %v", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("schedule never fired")
	}

	// Run timestamps advance so the schedule stops being due.
	waitFor(t, 3*time.Second, func() bool {
		got, err := h.store.GetSchedule(context.Background(), sched.ID)
		if err != nil {
			t.Fatal(err)
		}
		return got.LastRunAt != nil && got.NextRunAt.After(time.Now())
	})
}

func TestSchedulerBroadcastsResult(t *testing.T) {
	h := newHarness(t, func(context.Context, map[string]any) (any, error) {
		return "payload", nil
	})
	ch1 := h.channels.Open()
	ch2 := h.channels.Open()
	<-ch1.Queue() // connection events
	<-ch2.Queue()
	sched := insertDue(t, h.store, "broadcast")

	h.scheduler.Start(context.Background())
	defer h.scheduler.Stop()

	for _, ch := range []*channel.ClientChannel{ch1, ch2} {
		select {
		case msg := <-ch.Queue():
			if msg.Event != channel.EventResult {
				t.Fatalf("event = %s", msg.Event)
			}
			data := msg.Data.(map[string]any)
			if data["schedule_id"] != sched.ID || data["status"] != "success" || data["result"] != "payload" {
				t.Errorf("data = %v", data)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("broadcast not delivered")
		}
	}
}

func TestSchedulerSkipsDisabled(t *testing.T) {
	fired := make(chan struct{}, 8)
	h := newHarness(t, func(context.Context, map[string]any) (any, error) {
		fired <- struct{}{}
		return nil, nil
	})
	sched := insertDue(t, h.store, "off")
	if err := h.store.SetScheduleEnabled(context.Background(), sched.ID, false); err != nil {
		t.Fatal(err)
	}

	h.scheduler.Start(context.Background())
	defer h.scheduler.Stop()

	select {
	case <-fired:
		t.Fatal("disabled schedule fired")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestSchedulerAdvancesPastFailedCall(t *testing.T) {
	h := newHarness(t, func(context.Context, map[string]any) (any, error) {
		panic("handler down")
	})
	sched := insertDue(t, h.store, "failing")
	ch := h.channels.Open()
	<-ch.Queue()

	h.scheduler.Start(context.Background())
	defer h.scheduler.Stop()

	select {
	case msg := <-ch.Queue():
		data := msg.Data.(map[string]any)
		if data["status"] != "error" {
			t.Errorf("data = %v", data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("error result not broadcast")
	}

	waitFor(t, 3*time.Second, func() bool {
		got, err := h.store.GetSchedule(context.Background(), sched.ID)
		if err != nil {
			t.Fatal(err)
		}
		return got.NextRunAt != nil && got.NextRunAt.After(time.Now())
	})
}

func TestNextRunTime(t *testing.T) {
	after := time.Date(2026, 8, 25, 10, 2, 0, 0, time.UTC)
	next, err := NextRunTime("*/5 * * * *", after)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 8, 25, 10, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}

	if _, err := NextRunTime("not a cron expr", after); err == nil {
		t.Error("invalid expression accepted")
	}
}
