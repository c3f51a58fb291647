package acq

import (
	"context"
	"errors"
	"sync"

	"github.com/microvolume/stackacq/internal/stagelink"
)

// SerialStage adapts a stagelink.Link to the StageDriver contract.
// Controller error replies map onto the orchestrator's error states; link
// transport failures map onto the 1xx control-channel states.
type SerialStage struct {
	mu   sync.Mutex
	link *stagelink.Link

	errState int
}

// NewSerialStage wraps an open link.
func NewSerialStage(link *stagelink.Link) *SerialStage {
	return &SerialStage{link: link}
}

func (s *SerialStage) fail(err error, fallback int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ctrlErr *stagelink.ControllerError
	if errors.As(err, &ctrlErr) {
		s.errState = fallback
	} else {
		s.errState = ErrLinkSend
	}
	return err
}

func (s *SerialStage) MoveXY(ctx context.Context, x, y float64) error {
	if err := s.link.MoveStageXY(ctx, x, y); err != nil {
		return s.fail(err, ErrMotorXY)
	}
	return nil
}

func (s *SerialStage) MoveZ(ctx context.Context, z float64) error {
	if err := s.link.MoveStageZ(ctx, z); err != nil {
		return s.fail(err, ErrMotorZ)
	}
	return nil
}

func (s *SerialStage) Z(ctx context.Context) (float64, error) {
	z, err := s.link.StageZ(ctx)
	if err != nil {
		return 0, s.fail(err, ErrMotorZ)
	}
	return z, nil
}

func (s *SerialStage) Cut(ctx context.Context) error {
	if err := s.link.Cut(ctx); err != nil {
		return s.fail(err, ErrCutting)
	}
	return nil
}

func (s *SerialStage) Sweep(ctx context.Context) error {
	if err := s.link.Sweep(ctx); err != nil {
		return s.fail(err, ErrSweeping)
	}
	return nil
}

func (s *SerialStage) ErrorState() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errState
}

func (s *SerialStage) ResetError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errState = 0
}
