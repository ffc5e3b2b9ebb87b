// Package worker runs the privileged flashing sequence and defines the
// line-delimited event protocol between the flashing process and its caller.
package worker

import (
	"encoding/json"
	"io"
	"sync"
)

// Phase identifies which pass a progress event belongs to.
type Phase string

const (
	PhaseWrite  Phase = "write"
	PhaseVerify Phase = "verify"
)

// Kind enumerates the closed set of protocol events.
type Kind string

const (
	KindProgress Kind = "progress"
	KindStatus   Kind = "status"
	KindLog      Kind = "log"
	KindDone     Kind = "done"
	KindError    Kind = "error"
)

// Event is the decoded union of every protocol message. Exactly one done or
// error event terminates a flash operation; progress, status and log events
// may precede it in any number, in emission order.
type Event struct {
	Kind         Kind   `json:"event"`
	Phase        Phase  `json:"phase,omitempty"`
	Current      int64  `json:"current,omitempty"`
	Total        *int64 `json:"total,omitempty"`
	Message      string `json:"message,omitempty"`
	BytesWritten int64  `json:"bytes_written,omitempty"`
	DryRun       bool   `json:"dry_run,omitempty"`
}

// Terminal reports whether the event ends the operation.
func (e Event) Terminal() bool {
	return e.Kind == KindDone || e.Kind == KindError
}

// Emitter serializes events one JSON object per line. Writes are mutex-held
// so lines from concurrent callers never interleave.
type Emitter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w}
}

// Emit writes the event in the exact wire shape for its kind. Progress
// events always carry a total field, null when the size is unknown; done
// events always carry both summary fields.
func (e *Emitter) Emit(ev Event) {
	switch ev.Kind {
	case KindProgress:
		e.write(struct {
			Event   Kind   `json:"event"`
			Phase   Phase  `json:"phase"`
			Current int64  `json:"current"`
			Total   *int64 `json:"total"`
		}{ev.Kind, ev.Phase, ev.Current, ev.Total})
	case KindStatus, KindLog, KindError:
		e.write(struct {
			Event   Kind   `json:"event"`
			Message string `json:"message"`
		}{ev.Kind, ev.Message})
	case KindDone:
		e.write(struct {
			Event        Kind  `json:"event"`
			BytesWritten int64 `json:"bytes_written"`
			DryRun       bool  `json:"dry_run"`
		}{ev.Kind, ev.BytesWritten, ev.DryRun})
	}
}

func (e *Emitter) write(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = e.w.Write(append(data, '\n'))
}
