package geo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
)

var (
	// ErrPermissionDenied is returned by a Provider when the user refused to share a position
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrInvalidLocation marks coordinates that are not finite or out of range
	ErrInvalidLocation = errors.New("invalid location")
)

// Location is a position in decimal degrees
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate checks that both coordinates are finite and within range
func (l Location) Validate() error {
	if math.IsNaN(l.Latitude) || math.IsInf(l.Latitude, 0) || l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidLocation, l.Latitude)
	}
	if math.IsNaN(l.Longitude) || math.IsInf(l.Longitude, 0) || l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidLocation, l.Longitude)
	}
	return nil
}

// Fix holds the most recent known location. It is written by whatever
// permission flow the host runs and read once per exchange cycle.
type Fix struct {
	current atomic.Pointer[Location]
}

// Set stores a validated location
func (f *Fix) Set(l Location) error {
	if err := l.Validate(); err != nil {
		return err
	}
	f.current.Store(&l)
	return nil
}

// Clear forgets the location
func (f *Fix) Clear() {
	f.current.Store(nil)
}

// Current returns a copy of the stored location, or nil when none is known
func (f *Fix) Current() *Location {
	l := f.current.Load()
	if l == nil {
		return nil
	}
	c := *l
	return &c
}

// Provider answers a single position query
type Provider interface {
	Locate(ctx context.Context) (Location, error)
}

// Result is the outcome of a one-shot query: either a Location or an error
type Result struct {
	Location Location
	Err      error
}

// Request runs one query in the background. The returned channel yields
// exactly one Result and is then closed.
func Request(ctx context.Context, p Provider) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		loc, err := p.Locate(ctx)
		if err == nil {
			err = loc.Validate()
		}
		ch <- Result{Location: loc, Err: err}
	}()
	return ch
}

// Watch resolves a query and stores a successful answer in fix. Denial or
// any other failure leaves fix untouched; the core simply runs without a
// location bias.
func Watch(ctx context.Context, p Provider, fix *Fix, logger *slog.Logger) error {
	select {
	case res := <-Request(ctx, p):
		if res.Err != nil {
			if errors.Is(res.Err, ErrPermissionDenied) {
				logger.Info("location unavailable", "reason", "permission denied")
			} else {
				logger.Warn("location lookup failed", "error", res.Err)
			}
			return res.Err
		}
		if err := fix.Set(res.Location); err != nil {
			return err
		}
		logger.Info("location acquired")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Static is a Provider that always answers with a fixed position, or with
// ErrPermissionDenied when none was configured
type Static struct {
	Location *Location
}

// Locate implements Provider
func (s Static) Locate(ctx context.Context) (Location, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, err
	}
	if s.Location == nil {
		return Location{}, ErrPermissionDenied
	}
	return *s.Location, nil
}
