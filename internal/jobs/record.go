package jobs

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/CZERTAINLY/genojob/internal/executor"
)

// Info is a copy of a job state handed to callers.
type Info struct {
	ID              string     `json:"job_id"`
	Name            string     `json:"job_name"`
	Kind            string     `json:"kind"`
	Status          Status     `json:"status"`
	Command         []string   `json:"command"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	CancelRequested bool       `json:"cancel_requested,omitempty"`
	PID             int        `json:"pid,omitempty"`
	Error           *Error     `json:"error,omitempty"`
}

// LogTail is a suffix of a job log.
type LogTail struct {
	Lines []string `json:"lines"`
	Total int      `json:"total"`
}

// record is owned by the Manager. Immutable fields are set on creation,
// the rest is guarded by mx. The log has its own lock, so output appends
// never wait for state readers.
type record struct {
	id        string
	name      string
	kind      string
	seq       uint64
	command   executor.Command
	artifact  string
	createdAt time.Time

	// abortPending releases a job waiting for an execution slot
	abortPending context.CancelFunc
	pendingCtx   context.Context
	// done is closed when the record reaches a terminal status
	done chan struct{}

	mx              sync.RWMutex
	status          Status
	startedAt       time.Time
	finishedAt      time.Time
	result          json.RawMessage
	err             *Error
	cancelRequested bool
	pid             int
	proc            Process

	log logBuffer
}

func newRecord(id, name, kind string, cmd executor.Command, artifact string, now time.Time) *record {
	pendingCtx, abort := context.WithCancel(context.Background())
	return &record{
		id:           id,
		name:         name,
		kind:         kind,
		command:      cmd,
		artifact:     artifact,
		createdAt:    now,
		pendingCtx:   pendingCtx,
		abortPending: abort,
		done:         make(chan struct{}),
		status:       StatusPending,
	}
}

// setStatus applies a transition, mx must be held. Timestamps are set
// together with the status, so readers never observe one without the other.
func (r *record) setStatus(to Status, now time.Time) bool {
	if !r.status.canTransition(to) {
		return false
	}
	r.status = to
	if to == StatusRunning {
		r.startedAt = now
	}
	if to.Terminal() {
		r.finishedAt = now
		r.abortPending()
		close(r.done)
	}
	return true
}

func (r *record) info() Info {
	r.mx.RLock()
	defer r.mx.RUnlock()
	argv := make([]string, 0, len(r.command.Args)+1)
	argv = append(argv, r.command.Path)
	argv = append(argv, r.command.Args...)
	i := Info{
		ID:              r.id,
		Name:            r.name,
		Kind:            r.kind,
		Status:          r.status,
		Command:         argv,
		CreatedAt:       r.createdAt,
		CancelRequested: r.cancelRequested,
		PID:             r.pid,
		Error:           r.err.clone(),
	}
	if !r.startedAt.IsZero() {
		t := r.startedAt
		i.StartedAt = &t
	}
	if !r.finishedAt.IsZero() {
		t := r.finishedAt
		i.FinishedAt = &t
	}
	return i
}

func (r *record) output(_ executor.Stream, line string) {
	r.log.append(line)
}

// logBuffer is an append only list of output lines.
type logBuffer struct {
	mx    sync.RWMutex
	lines []string
}

func (b *logBuffer) append(line string) {
	b.mx.Lock()
	b.lines = append(b.lines, line)
	b.mx.Unlock()
}

// tail copies the last n lines, all of them for n == 0.
func (b *logBuffer) tail(n int) LogTail {
	b.mx.RLock()
	defer b.mx.RUnlock()
	total := len(b.lines)
	if n <= 0 || n > total {
		n = total
	}
	lines := slices.Clone(b.lines[total-n:])
	if lines == nil {
		lines = []string{}
	}
	return LogTail{Lines: lines, Total: total}
}
