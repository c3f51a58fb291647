package acq

import "log"

// EventSink receives orchestrator notifications. Implementations must not
// block; the worker calls them inline between acquisition steps. A UI, a
// remote reporter or a test harness implements this.
type EventSink interface {
	// OnLog receives operator-facing log lines.
	OnLog(message string)
	// OnProgress reports slice-loop progress.
	OnProgress(slice, numberSlices int)
	// OnError reports an error-state transition.
	OnError(state int, message string)
	// OnFocusAlert reports a WD or stigmation drift that was auto-restored.
	OnFocusAlert(grid, tile int, drift float64)
	// OnTileAcquired reports an accepted tile image.
	OnTileAcquired(grid, tile, slice int, path string)
	// OnSliceComplete reports a finished slice (imaged and cut).
	OnSliceComplete(slice int)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) OnLog(string)                       {}
func (NopSink) OnProgress(int, int)                {}
func (NopSink) OnError(int, string)                {}
func (NopSink) OnFocusAlert(int, int, float64)     {}
func (NopSink) OnTileAcquired(int, int, int, string) {}
func (NopSink) OnSliceComplete(int)                {}

// LogSink forwards events to a standard logger.
type LogSink struct {
	Logger *log.Logger
}

func (s LogSink) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

func (s LogSink) OnLog(message string) {
	s.logger().Printf("[Acq] %s", message)
}

func (s LogSink) OnProgress(slice, numberSlices int) {
	s.logger().Printf("[Acq] slice %d/%d", slice, numberSlices)
}

func (s LogSink) OnError(state int, message string) {
	s.logger().Printf("[Acq] error %d: %s", state, message)
}

func (s LogSink) OnFocusAlert(grid, tile int, drift float64) {
	s.logger().Printf("[Acq] focus drift %g restored at tile %d.%d", drift, grid, tile)
}

func (s LogSink) OnTileAcquired(grid, tile, slice int, path string) {
	s.logger().Printf("[Acq] tile %d.%d slice %d -> %s", grid, tile, slice, path)
}

func (s LogSink) OnSliceComplete(slice int) {
	s.logger().Printf("[Acq] slice %d complete", slice)
}
