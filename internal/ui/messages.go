package ui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"taskdeck/internal/netstat"
	"taskdeck/internal/orchestrator"
	"taskdeck/internal/tasks"
)

// Every subscription attempt gets a generation so that messages from an
// abandoned attempt can be told apart from the current one.

type subscribedMsg struct {
	gen int
	ch  <-chan []tasks.Task
}

type subscribeErrMsg struct {
	gen int
	err error
}

type snapshotMsg struct {
	gen      int
	ch       <-chan []tasks.Task
	snapshot []tasks.Task
}

type streamClosedMsg struct{ gen int }

type loadTimeoutMsg struct{ gen int }

type outcomeMsg struct{ out orchestrator.Outcome }

type noticeExpiredMsg struct{ seq int }

type netMsg struct{ status netstat.Status }

func subscribeCmd(ctx context.Context, sub Subscriber, gen int) tea.Cmd {
	return func() tea.Msg {
		ch, err := sub.Subscribe(ctx)
		if err != nil {
			return subscribeErrMsg{gen: gen, err: err}
		}
		return subscribedMsg{gen: gen, ch: ch}
	}
}

func waitForSnapshot(ch <-chan []tasks.Task, gen int) tea.Cmd {
	return func() tea.Msg {
		snapshot, ok := <-ch
		if !ok {
			return streamClosedMsg{gen: gen}
		}
		return snapshotMsg{gen: gen, ch: ch, snapshot: snapshot}
	}
}

func loadTimeoutCmd(d time.Duration, gen int) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return loadTimeoutMsg{gen: gen}
	})
}

func expireNoticeCmd(d time.Duration, seq int) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return noticeExpiredMsg{seq: seq}
	})
}

func waitForNet(ch <-chan netstat.Status) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		status, ok := <-ch
		if !ok {
			return nil
		}
		return netMsg{status: status}
	}
}

func runCall(ctx context.Context, call orchestrator.Call) tea.Cmd {
	return func() tea.Msg {
		return outcomeMsg{out: call(ctx)}
	}
}
