// Package ipc is a small synchronous message-passing runtime: a static table
// of tasks, each with one call slot, blocking calls carrying scoped memory
// leases, and server endpoints that answer calls one at a time.
package ipc

import (
	"sync/atomic"

	"i2cserver-go/errcode"
	"i2cserver-go/priority"
	"i2cserver-go/x/logx"
)

type TaskID uint16

// TaskSpec is one row of the static task table. Calls names every task this
// one may call; the table is checked for priority inversion at Start.
type TaskSpec struct {
	ID       TaskID
	Name     string
	Priority uint8
	Calls    []string
}

type taskEntry struct {
	spec    TaskSpec
	callees map[TaskID]struct{}
	client  *Client
	ep      *Endpoint
}

func (t *taskEntry) mayCall(id TaskID) bool {
	_, ok := t.callees[id]
	return ok
}

// Runtime owns the task table. Tasks cannot be added after construction.
type Runtime struct {
	tasks   []*taskEntry
	byID    map[TaskID]*taskEntry
	byName  map[string]*taskEntry
	report  priority.Report
	started atomic.Bool
}

// NewRuntime builds the task table, allocating every call slot and endpoint
// queue up front.
func NewRuntime(specs []TaskSpec) (*Runtime, error) {
	r := &Runtime{
		byID:   make(map[TaskID]*taskEntry, len(specs)),
		byName: make(map[string]*taskEntry, len(specs)),
	}
	for _, s := range specs {
		if s.Name == "" {
			return nil, &errcode.E{C: errcode.InvalidConfig, Op: "runtime", Msg: "task without name"}
		}
		if _, dup := r.byName[s.Name]; dup {
			return nil, &errcode.E{C: errcode.InvalidConfig, Op: "runtime", Msg: "duplicate task " + s.Name}
		}
		if _, dup := r.byID[s.ID]; dup {
			return nil, &errcode.E{C: errcode.InvalidConfig, Op: "runtime", Msg: "duplicate task id for " + s.Name}
		}
		t := &taskEntry{spec: s, callees: make(map[TaskID]struct{}, len(s.Calls))}
		r.tasks = append(r.tasks, t)
		r.byID[s.ID] = t
		r.byName[s.Name] = t
	}

	// Every task has at most one call outstanding, so a queue as deep as
	// the task table never blocks a sender.
	for _, t := range r.tasks {
		for _, name := range t.spec.Calls {
			if callee, ok := r.byName[name]; ok {
				t.callees[callee.spec.ID] = struct{}{}
			}
		}
		t.client = &Client{rt: r, task: t, slot: newSlot(t.spec.ID)}
		t.ep = newEndpoint(t, len(r.tasks))
	}
	return r, nil
}

// Start runs the priority discipline check over the declared call edges and
// opens the runtime for calls. It refuses to start on any violation.
func (r *Runtime) Start() error {
	tasks := make([]priority.Task, len(r.tasks))
	callers := make([]string, len(r.tasks))
	calls := make(map[string][]string, len(r.tasks))
	for i, t := range r.tasks {
		tasks[i] = priority.Task{Name: t.spec.Name, Priority: t.spec.Priority}
		callers[i] = t.spec.Name
		calls[t.spec.Name] = t.spec.Calls
	}
	r.report = priority.Check(tasks, priority.EdgesOf(callers, calls))

	log := logx.For(logx.ComponentIPC)
	if err := r.report.Err(); err != nil {
		log.Error("priority check failed", "violations", len(r.report.Violations), "err", err)
		return err
	}
	r.started.Store(true)
	log.Info("runtime started", "tasks", r.report.Tasks, "edges", r.report.Edges)
	return nil
}

// Report is the result of the last Start.
func (r *Runtime) Report() priority.Report { return r.report }

func (r *Runtime) Lookup(name string) (TaskID, bool) {
	t, ok := r.byName[name]
	if !ok {
		return 0, false
	}
	return t.spec.ID, true
}

// Client returns the named task's call handle.
func (r *Runtime) Client(name string) (*Client, error) {
	t, ok := r.byName[name]
	if !ok {
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "client", Msg: "unknown task " + name}
	}
	return t.client, nil
}

// Endpoint returns the named task's receive side.
func (r *Runtime) Endpoint(name string) (*Endpoint, error) {
	t, ok := r.byName[name]
	if !ok {
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "endpoint", Msg: "unknown task " + name}
	}
	return t.ep, nil
}

func (r *Runtime) endpoint(id TaskID) *Endpoint {
	t, ok := r.byID[id]
	if !ok {
		return nil
	}
	return t.ep
}
