// Package priority proves, before anything runs, that the static call graph
// cannot produce a priority inversion: every caller must call only tasks
// that are strictly more important than itself.
//
// Priorities follow the scheduler convention: a numerically lower value is
// more important, 0 being the most important.
package priority

import (
	"fmt"
	"io"
	"strings"

	"i2cserver-go/errcode"
)

type Task struct {
	Name     string
	Priority uint8
}

// Edge is a declared caller -> callee relation.
type Edge struct {
	Caller string
	Callee string
}

func (e Edge) String() string { return e.Caller + " -> " + e.Callee }

type Reason uint8

const (
	ReasonDownhill Reason = iota + 1 // callee less important than caller
	ReasonEqual                      // distinct tasks at the same priority
	ReasonUnknownCaller
	ReasonUnknownCallee
	ReasonDuplicateTask
)

func (r Reason) String() string {
	switch r {
	case ReasonDownhill:
		return "callee is less important than caller"
	case ReasonEqual:
		return "caller and callee share a priority"
	case ReasonUnknownCaller:
		return "unknown caller"
	case ReasonUnknownCallee:
		return "unknown callee"
	case ReasonDuplicateTask:
		return "duplicate task name"
	default:
		return "invalid"
	}
}

type Violation struct {
	Edge           Edge
	Reason         Reason
	CallerPriority int // -1 when unknown
	CalleePriority int // -1 when unknown
}

func (v Violation) String() string {
	if v.Reason == ReasonDuplicateTask {
		return fmt.Sprintf("%s: %s", v.Edge.Caller, v.Reason)
	}
	return fmt.Sprintf("%s (%d -> %d): %s", v.Edge, v.CallerPriority, v.CalleePriority, v.Reason)
}

// Report is the full result of a check. It lists every offending pair, not
// just the first.
type Report struct {
	Tasks      int
	Edges      int
	Violations []Violation
}

func (r Report) OK() bool { return len(r.Violations) == 0 }

// Err returns nil for a clean report, otherwise an InvalidConfig error naming
// all violations.
func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	parts := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		parts[i] = v.String()
	}
	return &errcode.E{C: errcode.InvalidConfig, Op: "priority", Msg: strings.Join(parts, "; ")}
}

// WriteTo prints a human readable report.
func (r Report) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "tasks=%d edges=%d violations=%d\n", r.Tasks, r.Edges, len(r.Violations))
	for _, v := range r.Violations {
		b.WriteString("  ")
		b.WriteString(v.String())
		b.WriteByte('\n')
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// Check verifies every edge. Self edges are allowed: a task calling itself
// cannot invert its own priority.
func Check(tasks []Task, edges []Edge) Report {
	rep := Report{Tasks: len(tasks), Edges: len(edges)}

	prio := make(map[string]int, len(tasks))
	for _, t := range tasks {
		if _, dup := prio[t.Name]; dup {
			rep.Violations = append(rep.Violations, Violation{
				Edge: Edge{Caller: t.Name}, Reason: ReasonDuplicateTask,
				CallerPriority: int(t.Priority), CalleePriority: -1,
			})
			continue
		}
		prio[t.Name] = int(t.Priority)
	}

	for _, e := range edges {
		cp, okCaller := prio[e.Caller]
		tp, okCallee := prio[e.Callee]
		v := Violation{Edge: e, CallerPriority: -1, CalleePriority: -1}
		if okCaller {
			v.CallerPriority = cp
		}
		if okCallee {
			v.CalleePriority = tp
		}
		switch {
		case !okCaller:
			v.Reason = ReasonUnknownCaller
		case !okCallee:
			v.Reason = ReasonUnknownCallee
		case e.Caller == e.Callee:
			continue
		case tp > cp:
			v.Reason = ReasonDownhill
		case tp == cp:
			v.Reason = ReasonEqual
		default:
			continue
		}
		rep.Violations = append(rep.Violations, v)
	}
	return rep
}

// EdgesOf flattens a caller -> callees table in caller order.
func EdgesOf(callers []string, calls map[string][]string) []Edge {
	var out []Edge
	for _, c := range callers {
		for _, callee := range calls[c] {
			out = append(out, Edge{Caller: c, Callee: callee})
		}
	}
	return out
}
