// Package trace implements the NineDoor trace filesystem: a structured
// event sink feeding /trace/events, a "SET <category> <level>" control
// grammar accepted on /trace/ctl, the /kmesg kernel-message stream, and
// per-worker task views. It doubles as the server's ambient logger:
// every subsystem logs through Sink.Record rather than
// fmt.Println/stdlib log, with a level design (Debug/Info/Warn/Error)
// generalized from an unstructured Printf-style API to structured
// {level, category, task, message} records addressable by category and
// by worker.
package trace

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level orders trace severities from most to least verbose.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

func parseLevel(s string) (Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	default:
		return 0, false
	}
}

// Event is one structured trace record: {level, category, task?,
// message}. ID gives every record a stable identity independent of its
// position in the ring, so a consumer that observed a record before it
// scrolled out of one view (e.g. TaskTrace) can still recognize it in
// another (e.g. Render).
type Event struct {
	ID       string
	Time     time.Time
	Level    Level
	Category string
	Task     string // empty means no task scope
	Message  string
}

func (e Event) render() string {
	task := e.Task
	if task == "" {
		task = "-"
	}
	return fmt.Sprintf("%s [%s] %s %s: %s\n",
		e.Time.UTC().Format(time.RFC3339Nano), e.Level, e.Category, task, e.Message)
}

// Sink is the event log plus kernel-message stream plus per-category
// filter table: a record ring bounded both by record count and by the
// total rendered bytes of the records it retains.
type Sink struct {
	mu sync.Mutex

	maxRecords int
	byteQuota  int

	filters map[string]Level // per-category minimum level; absent admits every level

	events     []Event
	eventBytes int

	kmesg      []byte
	kmesgQuota int

	tasks map[string][]Event
}

// Options configures a Sink's ring bounds.
type Options struct {
	MaxRecords int
	ByteQuota  int
	KmesgQuota int
}

// DefaultOptions matches constants.DefaultTraceRingRecords/ByteQuota.
func DefaultOptions() Options {
	return Options{MaxRecords: 4096, ByteQuota: 1 << 20, KmesgQuota: 1 << 20}
}

func NewSink(opts Options) *Sink {
	if opts.MaxRecords == 0 {
		opts.MaxRecords = DefaultOptions().MaxRecords
	}
	if opts.ByteQuota == 0 {
		opts.ByteQuota = DefaultOptions().ByteQuota
	}
	if opts.KmesgQuota == 0 {
		opts.KmesgQuota = DefaultOptions().KmesgQuota
	}
	return &Sink{
		maxRecords: opts.MaxRecords,
		byteQuota:  opts.ByteQuota,
		kmesgQuota: opts.KmesgQuota,
		filters:    make(map[string]Level),
		tasks:      make(map[string][]Event),
	}
}

// Record appends a structured event if the category's configured level
// threshold admits it; messages for worker spawn/kill, lease, budget
// exhaustion, policy decisions, and host-write denials must be recorded
// via this path rather than a direct log write.
func (s *Sink) Record(level Level, category, task, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if min, ok := s.filters[category]; ok && level < min {
		return
	}

	ev := Event{ID: uuid.NewString(), Time: time.Now(), Level: level, Category: category, Task: task, Message: message}
	line := ev.render()
	s.events = append(s.events, ev)
	s.eventBytes += len(line)
	for len(s.events) > s.maxRecords || (s.eventBytes > s.byteQuota && len(s.events) > 1) {
		s.eventBytes -= len(s.events[0].render())
		s.events = s.events[1:]
	}
	if task != "" {
		list := append(s.tasks[task], ev)
		if len(list) > s.maxRecords {
			list = list[len(list)-s.maxRecords:]
		}
		s.tasks[task] = list
	}

	s.appendKmesg(category, line)
}

func (s *Sink) appendKmesg(category, line string) {
	if category != "kernel" && category != "boot" && category != "queen" && category != "worker" {
		return
	}
	s.kmesg = append(s.kmesg, line...)
	if len(s.kmesg) > s.kmesgQuota {
		s.kmesg = s.kmesg[len(s.kmesg)-s.kmesgQuota:]
	}
}

// Configure applies one "SET <category> <level>" control line. Multiple
// lines may arrive in one write, newline-separated.
func (s *Sink) Configure(payload string) error {
	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 || fields[0] != "SET" {
			return fmt.Errorf("trace ctl: malformed line %q, want \"SET <category> <level>\"", line)
		}
		level, ok := parseLevel(fields[2])
		if !ok {
			return fmt.Errorf("trace ctl: unknown level %q", fields[2])
		}
		s.mu.Lock()
		s.filters[fields[1]] = level
		s.mu.Unlock()
	}
	return nil
}

// Render returns the full event log rendered as bytes, computed fresh
// on every call per the namespace package's "never cache" convention.
func (s *Sink) Render() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var buf bytes.Buffer
	for _, ev := range s.events {
		buf.WriteString(ev.render())
	}
	return buf.Bytes()
}

// KernelMessages returns the current kernel-message buffer.
func (s *Sink) KernelMessages() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.kmesg))
	copy(out, s.kmesg)
	return out
}

// TaskTrace returns the event buffer scoped to one worker/task.
func (s *Sink) TaskTrace(worker string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var buf bytes.Buffer
	for _, ev := range s.tasks[worker] {
		buf.WriteString(ev.render())
	}
	return buf.Bytes()
}
