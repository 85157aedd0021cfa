package service

import (
	"context"

	"iotdrone-monitor/internal/modules/sensors/types"
)

// Reader is the read side of the sensor window.
type Reader interface {
	Last(ctx context.Context, n int) ([]types.Reading, error)
	Latest(ctx context.Context) (types.Reading, bool, error)
	Capacity() int
}

// Service is the read-only query facade used by the pipeline and the HTTP side.
type Service struct {
	reader Reader
}

func NewService(reader Reader) *Service {
	return &Service{reader: reader}
}

// LastN returns at most n readings in arrival order, oldest first.
func (s *Service) LastN(ctx context.Context, n int) ([]types.Reading, error) {
	return s.reader.Last(ctx, n)
}

func (s *Service) Latest(ctx context.Context) (types.Reading, bool, error) {
	return s.reader.Latest(ctx)
}

// Window returns the whole retained window.
func (s *Service) Window(ctx context.Context) ([]types.Reading, error) {
	return s.reader.Last(ctx, s.reader.Capacity())
}

// Frame builds the presentation frame for the current window.
func (s *Service) Frame(ctx context.Context) (types.Frame, error) {
	window, err := s.Window(ctx)
	if err != nil {
		return types.Frame{}, err
	}
	latest, ok, err := s.Latest(ctx)
	if err != nil {
		return types.Frame{}, err
	}
	if !ok {
		return types.NewFrame(window, nil), nil
	}
	return types.NewFrame(window, &latest), nil
}
