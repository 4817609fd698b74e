package calendar

import (
	"context"
	"fmt"
	"time"

	googleauth "github.com/mklimuk/crm-pilot/pkg/integration/google"
	gcal "google.golang.org/api/calendar/v3"
)

// Event is a simplified calendar event used for sync.
type Event struct {
	ID          string
	Summary     string
	Description string
	Location    string
	StartTime   time.Time
	EndTime     time.Time
}

// CalendarAPI is the interface used by Syncer for testability.
type CalendarAPI interface {
	CreateEvent(ctx context.Context, e Event) (string, error)
	UpdateEvent(ctx context.Context, eventID string, e Event) error
}

// Service wraps the Google Calendar API.
type Service struct {
	srv        *gcal.Service
	calendarID string
}

// NewService creates a Calendar service using service account credentials.
func NewService(ctx context.Context, credentialsFile, calendarID string) (*Service, error) {
	opt, err := googleauth.ClientOption(ctx, credentialsFile, gcal.CalendarEventsScope)
	if err != nil {
		return nil, err
	}
	srv, err := gcal.NewService(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &Service{srv: srv, calendarID: calendarID}, nil
}

// CreateEvent creates a new event and returns its ID.
func (s *Service) CreateEvent(ctx context.Context, e Event) (string, error) {
	created, err := s.srv.Events.Insert(s.calendarID, toGCalEvent(e)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create event: %w", err)
	}
	return created.Id, nil
}

// UpdateEvent updates an existing event by ID.
func (s *Service) UpdateEvent(ctx context.Context, eventID string, e Event) error {
	_, err := s.srv.Events.Update(s.calendarID, eventID, toGCalEvent(e)).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	return nil
}

func toGCalEvent(e Event) *gcal.Event {
	return &gcal.Event{
		Summary:     e.Summary,
		Description: e.Description,
		Location:    e.Location,
		Start: &gcal.EventDateTime{
			DateTime: e.StartTime.Format(time.RFC3339),
			TimeZone: e.StartTime.Location().String(),
		},
		End: &gcal.EventDateTime{
			DateTime: e.EndTime.Format(time.RFC3339),
			TimeZone: e.EndTime.Location().String(),
		},
		Reminders: &gcal.EventReminders{UseDefault: true},
	}
}
