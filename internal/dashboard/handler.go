package dashboard

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/timetable-sync/timetable/internal/schedule"
	"github.com/timetable-sync/timetable/internal/store"
)

// SnapshotData contains the whole schedule
type SnapshotData struct {
	Identity string       `json:"identity"`
	State    string       `json:"state"`
	Courses  schedule.Set `json:"courses"`
	Pending  []string     `json:"pending,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// CourseUpdateData contains one course change
type CourseUpdateData struct {
	CourseID string           `json:"course_id"`
	Action   string           `json:"action"` // added, removed, updated
	Course   *schedule.Course `json:"course,omitempty"`
}

// ChangeData contains the previous and new value of an identity or state
type ChangeData struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Source is what the handler observes. *store.Store satisfies it.
type Source interface {
	Snapshot() store.Snapshot
	Subscribe(fn func(store.Snapshot)) (cancel func())
}

// Handler turns store snapshots into dashboard messages.
type Handler struct {
	server *Server
	logger *log.Logger

	mu       sync.Mutex
	last     store.Snapshot
	haveLast bool
	detach   func()
}

// NewHandler creates a new handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		server: server,
		logger: logger,
	}
}

// Attach follows src until Detach. New clients are greeted with the
// current snapshot.
func (h *Handler) Attach(src Source) {
	h.mu.Lock()
	h.last = src.Snapshot()
	h.haveLast = true
	h.mu.Unlock()

	h.server.SetWelcome(func() (Message, bool) {
		h.mu.Lock()
		defer h.mu.Unlock()
		if !h.haveLast {
			return Message{}, false
		}
		return newMessage(MessageTypeSnapshot, snapshotData(h.last), h.logger)
	})
	h.detach = src.Subscribe(h.OnSnapshot)
}

// Detach stops following the source.
func (h *Handler) Detach() {
	if h.detach != nil {
		h.detach()
		h.detach = nil
	}
}

// OnSnapshot diffs snap against the previous snapshot and broadcasts the
// changes.
func (h *Handler) OnSnapshot(snap store.Snapshot) {
	h.mu.Lock()
	prev, had := h.last, h.haveLast
	h.last = snap
	h.haveLast = true
	h.mu.Unlock()

	for _, msg := range h.diff(prev, had, snap) {
		h.server.Broadcast(msg)
	}
}

func (h *Handler) diff(prev store.Snapshot, had bool, next store.Snapshot) []Message {
	var out []Message
	add := func(typ MessageType, data interface{}) {
		if msg, ok := newMessage(typ, data, h.logger); ok {
			out = append(out, msg)
		}
	}

	if !had {
		add(MessageTypeSnapshot, snapshotData(next))
		return out
	}

	if !prev.Identity.Equal(next.Identity) {
		h.logger.Printf("Identity changed: %s -> %s", prev.Identity, next.Identity)
		add(MessageTypeIdentityChange, ChangeData{From: prev.Identity.String(), To: next.Identity.String()})
	}
	if prev.State != next.State {
		add(MessageTypeStateChange, ChangeData{From: prev.State.String(), To: next.State.String()})
	}

	// Loads replace the whole schedule, so send it whole.
	if !prev.Identity.Equal(next.Identity) || prev.State != next.State {
		if next.State == store.Ready {
			add(MessageTypeSnapshot, snapshotData(next))
		}
		return out
	}

	for _, c := range next.Courses {
		old, ok := prev.Courses.Get(c.ID)
		switch {
		case !ok:
			add(MessageTypeCourseUpdate, courseUpdate("added", c))
		case !old.Equal(c):
			add(MessageTypeCourseUpdate, courseUpdate("updated", c))
		}
	}
	for _, c := range prev.Courses {
		if !next.Courses.Contains(c.ID) {
			add(MessageTypeCourseUpdate, CourseUpdateData{CourseID: c.ID, Action: "removed"})
		}
	}
	return out
}

func courseUpdate(action string, c schedule.Course) CourseUpdateData {
	c = c.Clone()
	return CourseUpdateData{CourseID: c.ID, Action: action, Course: &c}
}

func snapshotData(snap store.Snapshot) SnapshotData {
	data := SnapshotData{
		Identity: snap.Identity.String(),
		State:    snap.State.String(),
		Courses:  snap.Courses,
		Pending:  snap.Pending,
	}
	if data.Courses == nil {
		data.Courses = schedule.Set{}
	}
	if snap.Err != nil {
		data.Error = snap.Err.Error()
	}
	return data
}

func newMessage(typ MessageType, data interface{}, logger *log.Logger) (Message, bool) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		logger.Printf("Failed to marshal %s data: %v", typ, err)
		return Message{}, false
	}
	return Message{Type: typ, Timestamp: time.Now(), Data: dataJSON}, true
}
