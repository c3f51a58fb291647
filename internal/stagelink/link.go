package stagelink

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// ControllerError is a numeric error state reported by the stage
// controller in an "ERR <state>" reply.
type ControllerError struct {
	State   int
	Command string
}

func (e *ControllerError) Error() string {
	return fmt.Sprintf("controller error state %d for command %q", e.State, e.Command)
}

// Link is a synchronous command/response channel to the stage and
// microtome controller. Commands are serialised by a mutex; the controller
// processes one command at a time and replies in order.
type Link struct {
	mu     sync.Mutex
	port   Porter
	reader *bufio.Reader
}

// NewLink wraps an open port in a Link.
func NewLink(port Porter) *Link {
	return &Link{
		port:   port,
		reader: bufio.NewReader(port),
	}
}

// Close closes the underlying port.
func (l *Link) Close() error {
	return l.port.Close()
}

// Exec sends one command line and returns the reply values. An "OK" reply
// returns its trailing fields; an "ERR <state>" reply returns a
// *ControllerError carrying the numeric state. Exec honours context
// cancellation between the write and the read by failing fast; an
// in-flight controller operation cannot be aborted over the wire.
func (l *Link) Exec(ctx context.Context, command string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	if _, err := l.port.Write([]byte(command + "\r\n")); err != nil {
		return "", fmt.Errorf("writing command %q: %w", command, err)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	line, err := l.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading reply to %q: %w", command, err)
	}
	line = strings.TrimRight(line, "\r\n")

	switch {
	case line == "OK":
		return "", nil
	case strings.HasPrefix(line, "OK "):
		return strings.TrimPrefix(line, "OK "), nil
	case strings.HasPrefix(line, "ERR "):
		state, convErr := strconv.Atoi(strings.TrimPrefix(line, "ERR "))
		if convErr != nil {
			return "", fmt.Errorf("malformed error reply %q to %q", line, command)
		}
		return "", &ControllerError{State: state, Command: command}
	default:
		return "", fmt.Errorf("unexpected reply %q to %q", line, command)
	}
}

// execFloat runs a command expecting a single float reply field.
func (l *Link) execFloat(ctx context.Context, command string) (float64, error) {
	reply, err := l.Exec(ctx, command)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(reply)
	if len(fields) < 1 {
		return 0, fmt.Errorf("empty reply to %q", command)
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parsing reply %q to %q: %w", reply, command, err)
	}
	return v, nil
}

// MoveStageXY moves the stage to the absolute position (x, y) in µm and
// blocks until the controller confirms the move.
func (l *Link) MoveStageXY(ctx context.Context, x, y float64) error {
	_, err := l.Exec(ctx, fmt.Sprintf("MOVE %s %s", formatUm(x), formatUm(y)))
	return err
}

// MoveStageZ moves the stage to the absolute z position in µm.
func (l *Link) MoveStageZ(ctx context.Context, z float64) error {
	_, err := l.Exec(ctx, "MOVZ "+formatUm(z))
	return err
}

// StageXY reads the current stage position in µm.
func (l *Link) StageXY(ctx context.Context) (x, y float64, err error) {
	reply, err := l.Exec(ctx, "POS?")
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(reply)
	if len(fields) < 2 {
		return 0, 0, fmt.Errorf("short position reply %q", reply)
	}
	if x, err = strconv.ParseFloat(fields[0], 64); err != nil {
		return 0, 0, fmt.Errorf("parsing x %q: %w", fields[0], err)
	}
	if y, err = strconv.ParseFloat(fields[1], 64); err != nil {
		return 0, 0, fmt.Errorf("parsing y %q: %w", fields[1], err)
	}
	return x, y, nil
}

// StageZ reads the current stage z position in µm.
func (l *Link) StageZ(ctx context.Context) (float64, error) {
	return l.execFloat(ctx, "POSZ?")
}

// Cut triggers one full knife cut cycle. The controller acknowledges the
// start of the cycle; completion is awaited by the caller's cut duration.
func (l *Link) Cut(ctx context.Context) error {
	_, err := l.Exec(ctx, "CUT")
	return err
}

// Sweep performs one cleaning pass of the knife over the block face
// without advancing z.
func (l *Link) Sweep(ctx context.Context) error {
	_, err := l.Exec(ctx, "SWEEP")
	return err
}

// NearKnife moves the knife to the near (cutting) position.
func (l *Link) NearKnife(ctx context.Context) error {
	_, err := l.Exec(ctx, "KNIFE NEAR")
	return err
}

// ClearKnife retracts the knife to the clear position.
func (l *Link) ClearKnife(ctx context.Context) error {
	_, err := l.Exec(ctx, "KNIFE CLEAR")
	return err
}

func formatUm(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
