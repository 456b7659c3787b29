// Package history is the durable, append-only trail of task lifecycle
// events. It subscribes to the in-process event bus and writes each
// event to a JSONL file, independent of the queryable per-task history
// the persistence layer already keeps in SQLite.
package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fleetci/taskhub/internal/bus"
	"github.com/fleetci/taskhub/internal/shared"
)

type entry struct {
	Timestamp string `json:"timestamp"`
	Topic     string `json:"topic"`
	TaskID    string `json:"task_id"`
	Queue     string `json:"queue"`
	Agent     string `json:"agent,omitempty"`
	Details   string `json:"details,omitempty"`
}

var (
	mu         sync.Mutex
	file       *os.File
	eventCount atomic.Int64
)

// Init opens (creating if needed) homeDir/logs/history.jsonl for append.
// Calling Init again before Close is a no-op.
func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "history.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// EventCount returns the total number of lifecycle events recorded since
// startup, regardless of whether Init was ever called.
func EventCount() int64 {
	return eventCount.Load()
}

// Record appends one lifecycle event to the JSONL trail. It is a no-op
// until Init has been called.
func Record(topic string, evt bus.LifecycleEvent) {
	eventCount.Add(1)

	agent := shared.Redact(evt.Agent)
	details := shared.Redact(evt.Details)

	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return
	}
	e := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Topic:     topic,
		TaskID:    evt.TaskID,
		Queue:     evt.Queue,
		Agent:     agent,
		Details:   details,
	}
	b, err := json.Marshal(e)
	if err == nil {
		_, _ = file.Write(append(b, '\n'))
	}
}

// Sink bridges the bus to the JSONL trail: it subscribes once and keeps
// draining until Stop is called. The bus itself holds nothing once a
// subscriber's buffer drains, so the sink is the only thing making
// lifecycle events durable.
type Sink struct {
	bus  *bus.Bus
	sub  *bus.Subscription
	done chan struct{}
}

// StartSink subscribes to every task.* topic and records each event as it
// arrives.
func StartSink(b *bus.Bus) *Sink {
	s := &Sink{bus: b, sub: b.Subscribe("task."), done: make(chan struct{})}
	go s.run()
	return s
}

func (s *Sink) run() {
	defer close(s.done)
	for evt := range s.sub.Ch() {
		lifecycle, ok := evt.Payload.(bus.LifecycleEvent)
		if !ok {
			continue
		}
		Record(evt.Topic, lifecycle)
	}
}

// Stop unsubscribes from the bus and waits for the drain loop to exit.
func (s *Sink) Stop() {
	s.bus.Unsubscribe(s.sub)
	<-s.done
}
