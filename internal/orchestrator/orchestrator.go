// Package orchestrator runs every task mutation through the same steps:
// connectivity precheck, in-flight gate, store call, one user notice.
//
// The gate is a single flag, not a queue. An attempt made while another
// change is being saved is rejected with a notice and never retried.
//
// An Orchestrator is owned by the UI event loop. The methods that build a
// Call and Finish must be called from that loop; the returned Call may run
// anywhere.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"taskdeck/internal/netstat"
	"taskdeck/internal/tasks"
)

var (
	ErrOffline = errors.New("no network connection")
	ErrBusy    = errors.New("another change is still being saved")
)

type Op string

const (
	OpCreate         Op = "create"
	OpUpdate         Op = "update"
	OpToggle         Op = "toggle"
	OpDelete         Op = "delete"
	OpReorder        Op = "reorder"
	OpRenormalize    Op = "renormalize"
	OpClearCompleted Op = "clear-completed"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

type Notice struct {
	Level Level
	Title string
	Body  string
}

func (n Notice) IsZero() bool { return n.Level == "" }

// Outcome is the terminal result of one attempt.
type Outcome struct {
	Op     Op
	Notice Notice
	Err    error
	// CloseForm is set when a create or edit succeeded.
	CloseForm bool
	// Started reports that the gate was taken, so Finish must release it.
	Started bool
	Cleared int
	Failed  int
}

// Call performs the store work of an accepted attempt, or just returns the
// rejection for one that was refused.
type Call func(ctx context.Context) Outcome

// Store is the part of the repository the orchestrator writes through.
type Store interface {
	Create(ctx context.Context, d tasks.Draft) (string, error)
	Update(ctx context.Context, id string, p tasks.Patch) error
	Remove(ctx context.Context, id string) error
	Reorder(ctx context.Context, updates []tasks.OrderUpdate) error
}

type Orchestrator struct {
	store    Store
	net      netstat.Source
	timeout  time.Duration
	log      *log.Entry
	inFlight Op
}

func New(store Store, net netstat.Source, timeout time.Duration, logger *log.Entry) *Orchestrator {
	return &Orchestrator{store: store, net: net, timeout: timeout, log: logger}
}

func (o *Orchestrator) Busy() bool   { return o.inFlight != "" }
func (o *Orchestrator) InFlight() Op { return o.inFlight }

// Finish releases the gate taken for out.
func (o *Orchestrator) Finish(out Outcome) {
	if out.Started && o.inFlight == out.Op {
		o.inFlight = ""
	}
}

func done(out Outcome) Call {
	return func(context.Context) Outcome { return out }
}

// offline is the connectivity precheck. It runs before any other check so an
// attempt made without a connection always gets the one connectivity notice.
func (o *Orchestrator) offline(op Op) Call {
	if o.net.Status().Online() {
		return nil
	}
	o.log.WithField("op", op).Info("rejected while offline")
	return done(Outcome{Op: op, Err: ErrOffline, Notice: Notice{
		Level: LevelError, Title: "No connection", Body: "Check your network and try again.",
	}})
}

// begin applies the busy check, then takes the gate. A non-nil Call is the
// rejection to hand back.
func (o *Orchestrator) begin(op Op) Call {
	if o.Busy() {
		o.log.WithFields(log.Fields{"op": op, "in_flight": o.inFlight}).Debug("rejected while busy")
		return done(Outcome{Op: op, Err: ErrBusy, Notice: Notice{
			Level: LevelInfo, Title: "Please wait", Body: "Another change is still being saved.",
		}})
	}
	o.inFlight = op
	return nil
}

func (o *Orchestrator) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return fn(ctx)
}

func failure(op Op, title string, err error) Outcome {
	return Outcome{Op: op, Started: true, Err: err, Notice: Notice{Level: LevelError, Title: title, Body: err.Error()}}
}

func success(op Op, title, body string) Outcome {
	return Outcome{Op: op, Started: true, Notice: Notice{Level: LevelSuccess, Title: title, Body: body}}
}

func (o *Orchestrator) Create(d tasks.Draft) Call {
	if rejected := o.offline(OpCreate); rejected != nil {
		return rejected
	}
	d, err := tasks.NormalizeDraft(d)
	if err != nil {
		return done(Outcome{Op: OpCreate, Err: err, Notice: Notice{Level: LevelError, Title: "Invalid task", Body: err.Error()}})
	}
	if rejected := o.begin(OpCreate); rejected != nil {
		return rejected
	}
	return func(ctx context.Context) Outcome {
		err := o.call(ctx, func(ctx context.Context) error {
			_, err := o.store.Create(ctx, d)
			return err
		})
		if err != nil {
			return failure(OpCreate, "Could not add task", err)
		}
		out := success(OpCreate, "Task added", d.Title)
		out.CloseForm = true
		return out
	}
}

// Edit turns an edit form into a patch against current and saves it.
func (o *Orchestrator) Edit(current tasks.Task, d tasks.Draft) Call {
	if rejected := o.offline(OpUpdate); rejected != nil {
		return rejected
	}
	p, err := tasks.EditPatch(current, d)
	if err != nil {
		return done(Outcome{Op: OpUpdate, Err: err, Notice: Notice{Level: LevelError, Title: "Invalid task", Body: err.Error()}})
	}
	return o.Update(current.ID, p)
}

// Update saves an edit. An empty patch closes the form without a store call.
func (o *Orchestrator) Update(id string, p tasks.Patch) Call {
	if rejected := o.offline(OpUpdate); rejected != nil {
		return rejected
	}
	if p.Empty() {
		return done(Outcome{Op: OpUpdate, CloseForm: true, Notice: Notice{Level: LevelInfo, Title: "No changes", Body: "Nothing to save."}})
	}
	if rejected := o.begin(OpUpdate); rejected != nil {
		return rejected
	}
	return func(ctx context.Context) Outcome {
		if err := o.call(ctx, func(ctx context.Context) error { return o.store.Update(ctx, id, p) }); err != nil {
			return failure(OpUpdate, "Could not save task", err)
		}
		out := success(OpUpdate, "Task saved", "")
		out.CloseForm = true
		return out
	}
}

func (o *Orchestrator) Toggle(t tasks.Task) Call {
	if rejected := o.offline(OpToggle); rejected != nil {
		return rejected
	}
	if rejected := o.begin(OpToggle); rejected != nil {
		return rejected
	}
	p := tasks.TogglePatch(t)
	return func(ctx context.Context) Outcome {
		if err := o.call(ctx, func(ctx context.Context) error { return o.store.Update(ctx, t.ID, p) }); err != nil {
			return failure(OpToggle, "Could not update task", err)
		}
		if *p.Completed {
			return success(OpToggle, "Completed", t.Title)
		}
		return success(OpToggle, "Reopened", t.Title)
	}
}

func (o *Orchestrator) Delete(t tasks.Task) Call {
	if rejected := o.offline(OpDelete); rejected != nil {
		return rejected
	}
	if rejected := o.begin(OpDelete); rejected != nil {
		return rejected
	}
	return func(ctx context.Context) Outcome {
		if err := o.call(ctx, func(ctx context.Context) error { return o.store.Remove(ctx, t.ID) }); err != nil {
			return failure(OpDelete, "Could not delete task", err)
		}
		return success(OpDelete, "Task deleted", t.Title)
	}
}

// Reorder persists a dragged permutation of the visible list. Lists shorter
// than two items produce no call and no notice.
func (o *Orchestrator) Reorder(permuted []tasks.Task) Call {
	if rejected := o.offline(OpReorder); rejected != nil {
		return rejected
	}
	updates := tasks.Reorder(permuted)
	if updates == nil {
		return done(Outcome{Op: OpReorder})
	}
	return o.reorder(OpReorder, updates, "Order saved")
}

// Renormalize rewrites every order value to a dense scale. A snapshot that
// is already dense produces an info notice and no call.
func (o *Orchestrator) Renormalize(snapshot []tasks.Task) Call {
	if rejected := o.offline(OpRenormalize); rejected != nil {
		return rejected
	}
	updates := tasks.Renormalize(snapshot)
	if updates == nil {
		return done(Outcome{Op: OpRenormalize, Notice: Notice{Level: LevelInfo, Title: "Order is tidy", Body: "Nothing to renumber."}})
	}
	return o.reorder(OpRenormalize, updates, "Order renumbered")
}

func (o *Orchestrator) reorder(op Op, updates []tasks.OrderUpdate, title string) Call {
	if rejected := o.begin(op); rejected != nil {
		return rejected
	}
	return func(ctx context.Context) Outcome {
		if err := o.call(ctx, func(ctx context.Context) error { return o.store.Reorder(ctx, updates) }); err != nil {
			return failure(op, "Could not save order", err)
		}
		return success(op, title, fmt.Sprintf("%d tasks updated", len(updates)))
	}
}

// ClearCompleted deletes every completed task of the snapshot one at a time.
// A failed delete does not stop the rest; the notice reports the tally.
func (o *Orchestrator) ClearCompleted(snapshot []tasks.Task) Call {
	if rejected := o.offline(OpClearCompleted); rejected != nil {
		return rejected
	}
	completed := tasks.CompletedTasks(snapshot)
	if len(completed) == 0 {
		return done(Outcome{Op: OpClearCompleted, Notice: Notice{Level: LevelInfo, Title: "Nothing to clear", Body: "No completed tasks."}})
	}
	if rejected := o.begin(OpClearCompleted); rejected != nil {
		return rejected
	}
	return func(ctx context.Context) Outcome {
		out := Outcome{Op: OpClearCompleted, Started: true}
		var lastErr error
		for _, t := range completed {
			err := o.call(ctx, func(ctx context.Context) error { return o.store.Remove(ctx, t.ID) })
			if err != nil {
				o.log.WithError(err).WithField("id", t.ID).Warn("clear completed: delete failed")
				out.Failed++
				lastErr = err
				continue
			}
			out.Cleared++
		}
		switch {
		case out.Failed == 0:
			out.Notice = Notice{Level: LevelSuccess, Title: "Cleared", Body: "All completed tasks cleared."}
		case out.Cleared == 0:
			out.Err = lastErr
			out.Notice = Notice{Level: LevelError, Title: "Clear failed", Body: "All deletes failed: " + lastErr.Error()}
		default:
			out.Err = lastErr
			out.Notice = Notice{Level: LevelError, Title: "Partially cleared", Body: fmt.Sprintf("%d cleared, %d failed", out.Cleared, out.Failed)}
		}
		return out
	}
}
