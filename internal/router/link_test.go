package router

import (
	"testing"
	"time"
)

func TestLink_StatusDropsNewestWhenFull(t *testing.T) {
	l := NewLink(LinkOptions{StatusBuffer: 2})

	for _, msg := range []string{"a", "b", "c"} {
		l.PublishStatus([]byte(msg))
	}

	if l.DroppedStatus() != 1 {
		t.Errorf("DroppedStatus() = %d, want 1", l.DroppedStatus())
	}
	for _, want := range []string{"a", "b"} {
		if got := string(<-l.Status()); got != want {
			t.Errorf("Status() = %q, want %q", got, want)
		}
	}
}

func TestLink_CommandsDropNewestWhenFull(t *testing.T) {
	l := NewLink(LinkOptions{CommandBuffer: 1})

	if !l.SendCommand(Command{Name: CommandObserve}) {
		t.Error("first SendCommand() = false")
	}
	if l.SendCommand(Command{Name: CommandShutdown}) {
		t.Error("SendCommand() on full channel = true")
	}
	if got := (<-l.Commands()).Name; got != CommandObserve {
		t.Errorf("queued command = %q, want observe", got)
	}
	if l.DroppedCommands() != 1 {
		t.Errorf("DroppedCommands() = %d, want 1", l.DroppedCommands())
	}
}

func TestLink_ObserverLiveness(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewLink(LinkOptions{ObserverTTL: 10 * time.Second})
	l.now = func() time.Time { return now }

	if l.ObserverLive() {
		t.Error("ObserverLive() = true before any observer")
	}

	l.Heartbeat()
	now = now.Add(9 * time.Second)
	if !l.ObserverLive() {
		t.Error("ObserverLive() = false within TTL")
	}
	now = now.Add(2 * time.Second)
	if l.ObserverLive() {
		t.Error("ObserverLive() = true after TTL expired")
	}

	detach := l.AttachObserver()
	if !l.ObserverLive() {
		t.Error("ObserverLive() = false with attached observer")
	}
	detach()
	detach()
	if l.ObserverLive() {
		t.Error("ObserverLive() = true after detach")
	}
}

func TestLink_Exit(t *testing.T) {
	l := NewLink(LinkOptions{})
	if l.Exiting() {
		t.Fatal("Exiting() = true on new link")
	}

	l.RequestExit()
	l.RequestExit()

	if !l.Exiting() {
		t.Error("Exiting() = false after RequestExit")
	}
	select {
	case <-l.Done():
	default:
		t.Error("Done() not closed after RequestExit")
	}
}
