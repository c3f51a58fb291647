package monitor

import (
	"fmt"
	"log"
	"sync"
	"time"
)

const maxRecentEvents = 200

// Event is one recorded orchestrator event.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Recorder consumes orchestrator events, keeps a bounded in-memory history
// for the status API and mirrors everything to the process log. It
// satisfies the acq.EventSink contract.
type Recorder struct {
	mu     sync.Mutex
	events []Event

	slice        int
	numberSlices int
	tilesDone    int
	focusAlerts  int
	lastError    int
	lastErrorMsg string

	logger *log.Logger

	// SliceHook, when set, runs on the worker goroutine after each
	// completed slice. Used to sample the focus plotter.
	SliceHook func(slice int)
}

// NewRecorder creates a Recorder mirroring events to the given logger.
func NewRecorder(logger *log.Logger) *Recorder {
	if logger == nil {
		logger = log.Default()
	}
	return &Recorder{logger: logger}
}

func (r *Recorder) push(level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Timestamp: time.Now(), Level: level, Message: message})
	if len(r.events) > maxRecentEvents {
		r.events = r.events[len(r.events)-maxRecentEvents:]
	}
}

func (r *Recorder) OnLog(message string) {
	r.logger.Printf("[Acq] %s", message)
	r.push("info", message)
}

func (r *Recorder) OnProgress(slice, numberSlices int) {
	r.mu.Lock()
	r.slice = slice
	r.numberSlices = numberSlices
	r.mu.Unlock()
}

func (r *Recorder) OnError(state int, message string) {
	r.logger.Printf("[Acq] ERROR %d: %s", state, message)
	r.mu.Lock()
	r.lastError = state
	r.lastErrorMsg = message
	r.mu.Unlock()
	r.push("error", fmt.Sprintf("%d: %s", state, message))
}

func (r *Recorder) OnFocusAlert(grid, tile int, drift float64) {
	r.logger.Printf("[Acq] focus drift %.2e restored at grid %d tile %d", drift, grid, tile)
	r.mu.Lock()
	r.focusAlerts++
	r.mu.Unlock()
	r.push("warn", fmt.Sprintf("focus drift %.2e restored at grid %d tile %d", drift, grid, tile))
}

func (r *Recorder) OnTileAcquired(grid, tile, slice int, path string) {
	r.mu.Lock()
	r.tilesDone++
	r.mu.Unlock()
}

func (r *Recorder) OnSliceComplete(slice int) {
	r.logger.Printf("[Acq] slice %d complete", slice)
	r.push("info", fmt.Sprintf("slice %d complete", slice))
	if r.SliceHook != nil {
		r.SliceHook(slice)
	}
}

// Progress is a point-in-time view of the recorder's counters.
type Progress struct {
	Slice        int    `json:"slice"`
	NumberSlices int    `json:"number_slices"`
	TilesDone    int    `json:"tiles_done"`
	FocusAlerts  int    `json:"focus_alerts"`
	LastError    int    `json:"last_error"`
	LastErrorMsg string `json:"last_error_message,omitempty"`
}

// Snapshot returns the counters and a copy of the recent event history.
func (r *Recorder) Snapshot() (Progress, []Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := make([]Event, len(r.events))
	copy(events, r.events)
	return Progress{
		Slice:        r.slice,
		NumberSlices: r.numberSlices,
		TilesDone:    r.tilesDone,
		FocusAlerts:  r.focusAlerts,
		LastError:    r.lastError,
		LastErrorMsg: r.lastErrorMsg,
	}, events
}
