package monitor

import (
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
)

func TestNewModel(t *testing.T) {
	model := NewModel("http://localhost:8080", 5*time.Second)
	assert.Equal(t, "http://localhost:8080", model.daemonURL)
	assert.Equal(t, 5*time.Second, model.interval)
	assert.False(t, model.quitting)
	assert.Equal(t, 1.0, model.queuedPeak)
}

func TestModel_Init(t *testing.T) {
	model := NewModel("http://localhost:8080", 5*time.Second)
	cmd := model.Init()

	// Init should return a tick command to start auto-refresh
	assert.NotNil(t, cmd)
}

func TestModel_Update_QuitKey(t *testing.T) {
	model := NewModel("http://localhost:8080", 5*time.Second)

	keyMsg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}
	updatedModel, cmd := model.Update(keyMsg)

	m := updatedModel.(Model)
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd) // Should return tea.Quit
}

func TestModel_Update_RefreshKey(t *testing.T) {
	model := NewModel("http://localhost:8080", 5*time.Second)

	keyMsg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}}
	updatedModel, cmd := model.Update(keyMsg)

	m := updatedModel.(Model)
	assert.False(t, m.quitting)
	assert.NotNil(t, cmd) // Should return fetchStatus command
}

func TestModel_Update_TickMsg(t *testing.T) {
	model := NewModel("http://localhost:8080", 5*time.Second)

	msg := tickMsg(time.Now())
	updatedModel, cmd := model.Update(msg)

	m := updatedModel.(Model)
	assert.False(t, m.quitting)
	assert.NotNil(t, cmd) // Should return batch command (tick + fetchStatus)
}

func TestModel_Update_StatusMsg(t *testing.T) {
	model := NewModel("http://localhost:8080", 5*time.Second)

	msg := statusMsg(StatusSnapshot{
		Status: "ok",
		Queue:  QueueCounts{Queued: 7, Inflight: 2},
		Runs:   map[string]int{"ready": 3},
	})
	updatedModel, cmd := model.Update(msg)

	m := updatedModel.(Model)
	assert.Equal(t, 7, m.snapshot.Queue.Queued)
	assert.Equal(t, []float64{7}, m.queuedHistory)
	assert.Equal(t, []float64{2}, m.inflightHistory)
	assert.Equal(t, []float64{3}, m.totalHistory)
	assert.Equal(t, 7.0, m.queuedPeak)
	assert.False(t, m.lastUpdate.IsZero())
	assert.Nil(t, cmd)
}

func TestModel_Update_Throughput(t *testing.T) {
	model := NewModel("http://localhost:8080", time.Minute)

	first, _ := model.Update(statusMsg(StatusSnapshot{Runs: map[string]int{"ready": 10}}))
	m := first.(Model)
	// The first poll has no previous total to diff against.
	assert.Equal(t, 0.0, m.throughput)

	second, _ := m.Update(statusMsg(StatusSnapshot{Runs: map[string]int{"ready": 13}}))
	m = second.(Model)
	assert.Equal(t, 3.0, m.throughput)
}

func TestModel_Update_ErrMsg(t *testing.T) {
	model := NewModel("http://localhost:8080", 5*time.Second)

	msg := errMsg(fmt.Errorf("connection refused"))
	updatedModel, cmd := model.Update(msg)

	m := updatedModel.(Model)
	assert.NotNil(t, m.err)
	assert.Contains(t, m.err.Error(), "connection refused")
	assert.Nil(t, cmd)
}

func TestModel_View_WithSnapshot(t *testing.T) {
	model := NewModel("http://localhost:8080", 5*time.Second)
	model.snapshot = StatusSnapshot{
		Status:  "ok",
		Version: "1.2.0",
		Queue:   QueueCounts{Queued: 1, Inflight: 2},
		Runs: map[string]int{
			"ready":        12,
			"needs-rework": 3,
			"blocked":      1,
			"cancelled":    0,
		},
		Policy: PolicySummary{
			Version:     1,
			Environment: "ci",
			Stages:      8,
			Phases:      []string{"freshness", "hygiene"},
		},
	}
	model.lastUpdate = time.Date(2026, 1, 1, 12, 34, 56, 0, time.UTC)

	view := model.View()

	assert.Contains(t, view, "gated Monitor")
	assert.Contains(t, view, "12:34:56")
	assert.Contains(t, view, "Queue")
	assert.Contains(t, view, "Run Outcomes")
	assert.Contains(t, view, "ready")
	assert.Contains(t, view, "needs-rework")
	assert.Contains(t, view, "blocked")
	assert.Contains(t, view, "Policy")
	assert.Contains(t, view, "ci")
	assert.Contains(t, view, "freshness")
	assert.Contains(t, view, "[q]")
	assert.Contains(t, view, "[r]")
}

func TestModel_View_WithError(t *testing.T) {
	model := NewModel("http://localhost:8080", 5*time.Second)
	model.err = fmt.Errorf("connection refused")

	view := model.View()

	assert.Contains(t, view, "Cannot connect to gated daemon")
	assert.Contains(t, view, "connection refused")
	assert.Contains(t, view, "http://localhost:8080")
	assert.Contains(t, view, "[q]")
	assert.Contains(t, view, "[r]")
}

func TestModel_View_NoData(t *testing.T) {
	model := NewModel("http://localhost:8080", 5*time.Second)
	// No snapshot, no error

	view := model.View()

	assert.Contains(t, view, "gated Monitor")
	assert.Contains(t, view, "[q]")
}

func TestAppendToHistory_Bounded(t *testing.T) {
	var history []float64
	for i := 0; i < historySize+10; i++ {
		history = appendToHistory(history, float64(i))
	}

	assert.Len(t, history, historySize)
	// Oldest entries are dropped first.
	assert.Equal(t, 10.0, history[0])
}

func TestQueueBadges(t *testing.T) {
	assert.Contains(t, queueBadge(0), "✓")
	assert.Contains(t, queueBadge(5), "⚠")
	assert.Contains(t, queueBadge(50), "✗")

	assert.Contains(t, statusBadge(0), "HEALTHY")
	assert.Contains(t, statusBadge(10), "BUSY")
	assert.Contains(t, statusBadge(25), "BACKED UP")
}
