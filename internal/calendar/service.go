// Package calendar defines the calendar collaborator contract and the
// helpers this platform needs around it: event-time parsing, Russian
// natural-language range resolution, and list rendering.
package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/san4s204/AI-ASSISTANT-main/pkg/models"
)

// ErrUnavailable classifies access and connectivity failures of the
// calendar backend. Callers translate it into a user-facing "reconnect
// your calendar" message instead of surfacing the raw error.
var ErrUnavailable = errors.New("calendar unavailable")

// Draft is the payload for creating a new event.
type Draft struct {
	Summary     string
	Start       time.Time
	End         time.Time
	Location    *string
	Description *string
}

// Patch is a partial update applied to an existing event. Nil fields are
// left untouched.
type Patch struct {
	Summary     *string
	Location    *string
	Description *string
	Start       *models.EventTime
	End         *models.EventTime
}

// Empty reports whether the patch would change nothing.
func (p Patch) Empty() bool {
	return p.Summary == nil && p.Location == nil && p.Description == nil &&
		p.Start == nil && p.End == nil
}

// Service is the external calendar collaborator. Implementations are
// expected to wrap backend errors in ErrUnavailable where the failure is
// an access or connectivity problem.
type Service interface {
	ListBetween(ctx context.Context, ownerID int64, collectionID string, start, end time.Time) ([]models.Event, error)
	Create(ctx context.Context, ownerID int64, collectionID string, draft Draft) (*models.Event, error)
	Patch(ctx context.Context, ownerID int64, collectionID, eventID string, patch Patch) (*models.Event, error)
	Delete(ctx context.Context, ownerID int64, collectionID, eventID string) error
	ResolveTimezone(ctx context.Context, ownerID int64) (*time.Location, error)
}

// Unconfigured is a Service for owners without a connected calendar: every
// operation fails with ErrUnavailable and the timezone falls back to a
// fixed location.
type Unconfigured struct {
	Location *time.Location
}

func (u Unconfigured) ListBetween(context.Context, int64, string, time.Time, time.Time) ([]models.Event, error) {
	return nil, ErrUnavailable
}

func (u Unconfigured) Create(context.Context, int64, string, Draft) (*models.Event, error) {
	return nil, ErrUnavailable
}

func (u Unconfigured) Patch(context.Context, int64, string, string, Patch) (*models.Event, error) {
	return nil, ErrUnavailable
}

func (u Unconfigured) Delete(context.Context, int64, string, string) error {
	return ErrUnavailable
}

func (u Unconfigured) ResolveTimezone(context.Context, int64) (*time.Location, error) {
	if u.Location != nil {
		return u.Location, nil
	}
	return time.UTC, nil
}
