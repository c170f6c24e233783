package collab

import (
	"context"
	"fmt"

	"github.com/mcdev12/teamsync/go/internal/countdown"
	"github.com/mcdev12/teamsync/go/internal/eventbus"
	"github.com/mcdev12/teamsync/go/internal/events"
	"github.com/mcdev12/teamsync/go/internal/models"
	"github.com/rs/zerolog/log"
)

const maxTimerSeconds = 24 * 60 * 60

func validateDuration(seconds int) error {
	if seconds <= 0 || seconds > maxTimerSeconds {
		return fmt.Errorf("timer duration must be 1 to %d seconds: %w", maxTimerSeconds, models.ErrInvalid)
	}
	return nil
}

func timerPayload(t *topic, duration int, expired bool) events.TimerPayload {
	return events.TimerPayload{
		Running:  t.board.Timer.Running,
		TimeLeft: t.board.Timer.Remaining,
		Duration: duration,
		Expired:  expired,
	}
}

// startTimer persists the running state, then replaces any live countdown
// for the board. Both happen under the topic lock, which the tick callback
// also takes, so a superseded countdown can never apply another tick.
func (s *Synchronizer) startTimer(ctx context.Context, t *topic, m *models.Participant, c *StartTimer) error {
	seconds := t.board.Timer.Default
	if c.Duration != nil {
		seconds = *c.Duration
	}
	if err := validateDuration(seconds); err != nil {
		return err
	}

	if err := s.store.SetTimerState(ctx, t.board.ID, true, seconds); err != nil {
		return fmt.Errorf("failed to start timer: %w", err)
	}
	t.board.Timer.Running = true
	t.board.Timer.Remaining = seconds
	t.countdown = s.timers.Start(t.board.ID, seconds, s.onTick(t.key))

	s.broadcast(t, events.EventTypeTimerStarted, timerPayload(t, seconds, false))
	s.emit(t, eventbus.ActivityTimerStarted, m.Name, "seconds", fmt.Sprint(seconds))
	return nil
}

func (s *Synchronizer) stopTimer(ctx context.Context, t *topic, m *models.Participant) error {
	if err := s.store.SetTimerState(ctx, t.board.ID, false, 0); err != nil {
		return fmt.Errorf("failed to stop timer: %w", err)
	}
	duration := 0
	if t.countdown != nil {
		duration = t.countdown.Duration
	}
	s.timers.Stop(t.board.ID)
	t.countdown = nil
	t.board.Timer.Running = false
	t.board.Timer.Remaining = 0

	s.broadcast(t, events.EventTypeTimerStopped, timerPayload(t, duration, false))
	s.emit(t, eventbus.ActivityTimerStopped, m.Name)
	return nil
}

// resumeTimer restarts the countdown of a board persisted as running,
// from its last persisted remaining time
func (s *Synchronizer) resumeTimer(ctx context.Context, t *topic) {
	remaining := t.board.Timer.Remaining
	if remaining <= 0 {
		t.board.Timer.Running = false
		t.board.Timer.Remaining = 0
		if err := s.store.SetTimerState(ctx, t.board.ID, false, 0); err != nil {
			log.Warn().Err(err).Str("board_id", t.board.ID).Msg("failed to clear finished timer")
		}
		return
	}
	t.countdown = s.timers.Start(t.board.ID, remaining, s.onTick(t.key))
	log.Info().
		Str("board_id", t.board.ID).
		Int("remaining", remaining).
		Msg("resumed board timer")
}

// onTick returns the countdown callback for a board. It runs on the
// countdown goroutine and takes the topic lock like any command.
func (s *Synchronizer) onTick(key topicKey) countdown.TickFunc {
	return func(c *countdown.Countdown, remaining int, expired bool) {
		t := s.existing(key)
		if t == nil {
			s.timers.Release(c)
			return
		}
		defer s.release(t)

		if !s.timers.Owns(c) || t.countdown != c {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
		defer cancel()

		if expired {
			s.timers.Release(c)
			t.countdown = nil
			t.board.Timer.Running = false
			t.board.Timer.Remaining = 0
			s.persistTimer(ctx, t)
			s.broadcast(t, events.EventTypeTimerStopped, timerPayload(t, c.Duration, true))
			s.emit(t, eventbus.ActivityTimerExpired, "", "seconds", fmt.Sprint(c.Duration))
			log.Info().Str("board_id", t.board.ID).Msg("board timer expired")
			return
		}

		t.board.Timer.Remaining = remaining
		s.persistTimer(ctx, t)
		s.broadcast(t, events.EventTypeTimerUpdated, timerPayload(t, c.Duration, false))
	}
}

// persistTimer writes the timer state best effort. A lost tick write only
// makes a later reload resume from a slightly older remaining time.
func (s *Synchronizer) persistTimer(ctx context.Context, t *topic) {
	timer := t.board.Timer
	if err := s.store.SetTimerState(ctx, t.board.ID, timer.Running, timer.Remaining); err != nil {
		log.Warn().Err(err).
			Str("board_id", t.board.ID).
			Int("remaining", timer.Remaining).
			Msg("failed to persist timer tick")
	}
}
