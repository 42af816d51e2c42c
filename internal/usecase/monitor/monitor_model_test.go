package monitor

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"caseimport/internal/domain/importing"
	"caseimport/internal/ports"
	"caseimport/internal/usecase/importer"
)

type fakeSource struct {
	views     map[string]importer.BatchStatusView
	stats     importer.QueueStats
	cancelled []string
	cancelErr error
}

func (f *fakeSource) Status(_ context.Context, batchID string) (importer.BatchStatusView, error) {
	view, ok := f.views[batchID]
	if !ok {
		return importer.BatchStatusView{}, ports.ErrBatchNotFound
	}
	return view, nil
}

func (f *fakeSource) Stats(context.Context) importer.QueueStats {
	return f.stats
}

func (f *fakeSource) Cancel(_ context.Context, batchID string) (importer.CancelResult, error) {
	if f.cancelErr != nil {
		return importer.CancelResult{}, f.cancelErr
	}
	f.cancelled = append(f.cancelled, batchID)
	return importer.CancelResult{BatchID: batchID, Status: importing.StatusFailed, Dequeued: true}, nil
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		views: map[string]importer.BatchStatusView{
			"b-1": {BatchID: "b-1", Filename: "a.csv", Status: importing.StatusPending, ErrorSummary: []string{}},
			"b-2": {
				BatchID:       "b-2",
				Filename:      "b.csv",
				Status:        importing.StatusPartiallyCompleted,
				TotalRecords:  5,
				FailedRecords: 2,
				ErrorSummary:  []string{"row 3: VALIDATION_ERROR: bad date"},
			},
		},
		stats: importer.QueueStats{QueueDepth: 1, BrokerConnected: true, BrokerState: "memory"},
	}
}

func load(t *testing.T, m tea.Model) tea.Model {
	t.Helper()
	mm := m.(*model)
	next, _ := mm.Update(mm.loadCmd()())
	return next
}

func TestNewModelDeduplicatesBatchIDs(t *testing.T) {
	m := NewModel(context.Background(), newFakeSource(), Options{BatchIDs: []string{"b-1", " ", "b-1", "b-2"}}).(*model)
	if len(m.ids) != 2 || m.ids[0] != "b-1" || m.ids[1] != "b-2" {
		t.Fatalf("ids = %v, want [b-1 b-2]", m.ids)
	}
	if m.refreshInterval <= 0 {
		t.Fatalf("refreshInterval = %s, want default", m.refreshInterval)
	}
}

func TestSnapshotRendersBatchesAndErrors(t *testing.T) {
	src := newFakeSource()
	m := load(t, NewModel(context.Background(), src, Options{BatchIDs: []string{"b-2", "missing"}}))

	view := m.View()
	for _, want := range []string{"b-2", "PARTIALLY_COMPLETED", "row 3: VALIDATION_ERROR", "missing  error:", "depth 1"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestCancelSelectedBatch(t *testing.T) {
	src := newFakeSource()
	m := load(t, NewModel(context.Background(), src, Options{BatchIDs: []string{"b-1", "b-2"}})).(*model)

	cmd := m.cancelCmd()
	if cmd == nil {
		t.Fatalf("cancelCmd() = nil for pending batch")
	}
	m.Update(cmd())
	if len(src.cancelled) != 1 || src.cancelled[0] != "b-1" {
		t.Fatalf("cancelled = %v, want [b-1]", src.cancelled)
	}
	if !strings.Contains(m.status, "dequeued=true") {
		t.Fatalf("status = %q", m.status)
	}

	m.Update(tea.KeyMsg{Type: tea.KeyDown})
	if m.selected != 1 {
		t.Fatalf("selected = %d, want 1", m.selected)
	}
	if cmd := m.cancelCmd(); cmd != nil {
		t.Fatalf("cancelCmd() on terminal batch should be nil")
	}
}

func TestCancelFailureIsReported(t *testing.T) {
	src := newFakeSource()
	src.cancelErr = errors.New("not owned")
	m := load(t, NewModel(context.Background(), src, Options{BatchIDs: []string{"b-1"}})).(*model)

	m.Update(m.cancelCmd()())
	if !strings.Contains(m.status, "cancel b-1 failed: not owned") {
		t.Fatalf("status = %q", m.status)
	}
}

func TestExitWhenDoneQuitsOnTerminalBatches(t *testing.T) {
	src := newFakeSource()
	m := NewModel(context.Background(), src, Options{BatchIDs: []string{"b-2"}, ExitWhenDone: true}).(*model)

	_, cmd := m.Update(m.loadCmd()())
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("cmd() did not return tea.QuitMsg")
	}
}
