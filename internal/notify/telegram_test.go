package notify

import (
	"strings"
	"testing"

	"github.com/fleetci/taskhub/internal/bus"
)

func TestAlertText_BurnoutDetected(t *testing.T) {
	evt := bus.LifecycleEvent{TaskID: "t-1", Queue: "claimed", Agent: "coder-1"}
	got := alertText(bus.TopicTaskBurnoutDetected, evt)
	if got == "" {
		t.Fatal("expected non-empty alert text")
	}
	if want := "t-1"; !strings.Contains(got, want) {
		t.Fatalf("expected alert to mention %q, got %q", want, got)
	}
}

func TestAlertText_LeaseExpiredRequeue(t *testing.T) {
	evt := bus.LifecycleEvent{TaskID: "t-2", Details: "Lease expired"}
	got := alertText(bus.TopicTaskRequeued, evt)
	if got == "" {
		t.Fatal("expected non-empty alert text for lease expiry")
	}
}

func TestAlertText_IgnoresOtherRequeueReasons(t *testing.T) {
	evt := bus.LifecycleEvent{TaskID: "t-3", Details: "Rejected by reviewer"}
	got := alertText(bus.TopicTaskRequeued, evt)
	if got != "" {
		t.Fatalf("expected no alert for non-lease requeue, got %q", got)
	}
}

func TestAlertText_IgnoresUnrelatedTopics(t *testing.T) {
	evt := bus.LifecycleEvent{TaskID: "t-4"}
	got := alertText(bus.TopicTaskClaimed, evt)
	if got != "" {
		t.Fatalf("expected no alert for task.claimed, got %q", got)
	}
}
