// Package notification fans snatch events out to external senders.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/slipstream/acquire/internal/release"
)

const (
	minBackoffDuration = 5 * time.Minute
	maxEscalationLevel = 5
	sendTimeout        = 15 * time.Second
)

// EventType names what happened.
type EventType string

const (
	EventSnatched EventType = "snatched"
	EventTest     EventType = "test"
)

// Event is the payload handed to every sender.
type Event struct {
	Type      EventType `json:"eventType"`
	ReleaseID string    `json:"releaseId,omitempty"`
	Artist    string    `json:"artist,omitempty"`
	Album     string    `json:"album,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Folder    string    `json:"folder,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sender delivers events to one destination.
type Sender interface {
	Name() string
	Send(ctx context.Context, event Event) error
}

type failState struct {
	escalation   int
	disabledTill time.Time
}

// Service logs every snatch and forwards it to the configured senders. A
// sender that fails is skipped for a growing backoff window.
type Service struct {
	senders []Sender
	logger  zerolog.Logger
	now     func() time.Time

	mu     sync.Mutex
	status map[string]*failState
}

func NewService(logger zerolog.Logger, senders ...Sender) *Service {
	return &Service{
		senders: senders,
		logger:  logger.With().Str("component", "notification").Logger(),
		now:     time.Now,
		status:  make(map[string]*failState),
	}
}

// OnSnatched satisfies the grab notifier hook. Delivery failures are logged,
// never returned.
func (s *Service) OnSnatched(ctx context.Context, req release.Request, provider, folder string) {
	s.logger.Info().
		Str("artist", req.Artist).
		Str("album", req.Title).
		Str("provider", provider).
		Str("folder", folder).
		Msg("Download started")

	s.Dispatch(ctx, Event{
		Type:      EventSnatched,
		ReleaseID: req.ID,
		Artist:    req.Artist,
		Album:     req.Title,
		Provider:  release.ProviderDisplayName(provider),
		Folder:    folder,
		Message:   req.Artist + " - " + req.Title + " sent to download client",
		Timestamp: s.now().UTC(),
	})
}

// Dispatch sends event to every sender not currently backed off and waits
// for all of them.
func (s *Service) Dispatch(ctx context.Context, event Event) {
	if len(s.senders) == 0 {
		return
	}

	// Delivery outlives the request that triggered it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	var g errgroup.Group
	for _, sender := range s.senders {
		if s.isDisabled(sender.Name()) {
			s.logger.Debug().Str("name", sender.Name()).Msg("Skipping notifier in backoff")
			continue
		}
		g.Go(func() error {
			s.send(ctx, sender, event)
			return nil
		})
	}
	_ = g.Wait()
}

// Test sends a test event to every sender, ignoring backoff, and returns
// the failures by sender name.
func (s *Service) Test(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	for _, sender := range s.senders {
		err := sender.Send(ctx, Event{
			Type:      EventTest,
			Message:   "Test notification",
			Timestamp: s.now().UTC(),
		})
		if err != nil {
			failures[sender.Name()] = err
		}
	}
	return failures
}

func (s *Service) send(ctx context.Context, sender Sender, event Event) {
	if err := sender.Send(ctx, event); err != nil {
		s.logger.Error().
			Err(err).
			Str("name", sender.Name()).
			Str("event", string(event.Type)).
			Msg("Notification failed")
		s.recordFailure(sender.Name())
		return
	}
	s.logger.Debug().Str("name", sender.Name()).Str("event", string(event.Type)).Msg("Notification sent successfully")
	s.clearFailure(sender.Name())
}

func (s *Service) isDisabled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[name]
	return ok && st.disabledTill.After(s.now())
}

func (s *Service) recordFailure(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.status[name]
	if !ok {
		st = &failState{}
		s.status[name] = st
	}
	st.escalation = min(st.escalation+1, maxEscalationLevel)
	st.disabledTill = s.now().Add(minBackoffDuration * time.Duration(1<<(st.escalation-1)))
}

func (s *Service) clearFailure(name string) {
	s.mu.Lock()
	delete(s.status, name)
	s.mu.Unlock()
}
