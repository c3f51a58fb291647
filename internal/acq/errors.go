// Package acq implements the acquisition orchestrator: the slice-loop
// state machine that sequences overview capture, debris mitigation,
// per-tile imaging with quality gating and bounded retries, cutting, and
// crash/pause-safe resumption.
package acq

import "fmt"

// Error states surfaced by the orchestrator. Codes are grouped by
// hundreds: 1xx control-channel, 2xx stage and cut mechanics, 3xx imaging
// device, 4xx storage I/O, 5xx acquisition logic, 6xx user defined.
const (
	ErrNone = 0

	ErrLinkInit         = 101
	ErrLinkSend         = 102
	ErrLinkUnresponsive = 103
	ErrLinkRead         = 104

	ErrMotorXY    = 201
	ErrMotorZ     = 202
	ErrZMoveLarge = 203
	ErrCutting    = 204
	ErrSweeping   = 205

	ErrImagingInit     = 301
	ErrGrabImage       = 302
	ErrGrabIncomplete  = 303
	ErrFrozenFrame     = 304
	ErrImagingHung     = 305
	ErrEHT             = 306
	ErrBeamCurrent     = 307
	ErrFrameSize       = 308
	ErrMagnification   = 309
	ErrScanRate        = 310
	ErrWorkingDistance = 311
	ErrStigmation      = 312
	ErrBeamBlanking    = 313

	ErrPrimaryDrive = 401
	ErrMirrorDrive  = 402
	ErrOverwrite    = 403
	ErrLoadImage    = 404

	ErrMaxSweeps         = 501
	ErrOverviewRange     = 502
	ErrTileRange         = 503
	ErrTileDrift         = 504
	ErrAutofocusHardware = 505
	ErrAutofocusHeur     = 506
	ErrWDStigDiff        = 507
	ErrMetadataServer    = 508

	ErrUserDefined = 601
)

// errorMessages maps error states to operator-facing descriptions.
var errorMessages = map[int]string{
	ErrNone: "No error",

	ErrLinkInit:         "Control link initialization error",
	ErrLinkSend:         "Control link error (command could not be sent)",
	ErrLinkUnresponsive: "Control link error (unresponsive)",
	ErrLinkRead:         "Control link error (reply could not be read)",

	ErrMotorXY:    "Motor error (XY target position not reached)",
	ErrMotorZ:     "Motor error (Z target position not reached)",
	ErrZMoveLarge: "Motor error (Z move too large)",
	ErrCutting:    "Cutting error",
	ErrSweeping:   "Sweeping error",

	ErrImagingInit:     "Imaging device initialization error",
	ErrGrabImage:       "Grab image error",
	ErrGrabIncomplete:  "Grab incomplete error",
	ErrFrozenFrame:     "Frozen frame error",
	ErrImagingHung:     "Imaging device unresponsive error",
	ErrEHT:             "EHT error",
	ErrBeamCurrent:     "Beam current error",
	ErrFrameSize:       "Frame size error",
	ErrMagnification:   "Magnification error",
	ErrScanRate:        "Scan rate error",
	ErrWorkingDistance: "WD error",
	ErrStigmation:      "STIG XY error",
	ErrBeamBlanking:    "Beam blanking error",

	ErrPrimaryDrive: "Primary drive error",
	ErrMirrorDrive:  "Mirror drive error",
	ErrOverwrite:    "Overwrite file error",
	ErrLoadImage:    "Load image error",

	ErrMaxSweeps:         "Maximum sweeps error",
	ErrOverviewRange:     "Overview image error (outside of range)",
	ErrTileRange:         "Tile image error (outside of range)",
	ErrTileDrift:         "Tile image error (slice-by-slice comparison)",
	ErrAutofocusHardware: "Autofocus error (hardware)",
	ErrAutofocusHeur:     "Autofocus error (heuristic)",
	ErrWDStigDiff:        "WD/STIG difference error",
	ErrMetadataServer:    "Metadata server error",

	ErrUserDefined: "User-defined error",
}

// ErrorMessage returns the description for an error state.
func ErrorMessage(state int) string {
	if msg, ok := errorMessages[state]; ok {
		return msg
	}
	return fmt.Sprintf("Unknown error state %d", state)
}

// transientStates are retried up to maxTransientRetries per unit before
// escalating to a pause. All other states escalate immediately.
var transientStates = map[int]bool{
	ErrGrabImage:      true,
	ErrGrabIncomplete: true,
	ErrFrozenFrame:    true,
	ErrLoadImage:      true,
}

const maxTransientRetries = 3

// isTransient reports whether an error state qualifies for silent retry.
func isTransient(state int) bool {
	return transientStates[state]
}
