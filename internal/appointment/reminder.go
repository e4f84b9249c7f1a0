package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/caretide/clinic-ops/internal/notify"
)

type ReminderConfig struct {
	Lead     time.Duration // how far ahead of the slot start reminders go out
	Interval time.Duration // worker tick interval, also the scan window width
}

// ReminderService queues upcoming-appointment reminders. Each run scans the
// window [tick+lead, tick+lead+interval) with the tick truncated to the
// interval, so consecutive runs cover disjoint windows and an appointment is
// reminded once.
type ReminderService struct {
	store    Store
	notifier notify.Notifier
	cfg      ReminderConfig
	log      zerolog.Logger
	now      func() time.Time
}

func NewReminderService(store Store, notifier notify.Notifier, cfg ReminderConfig, log zerolog.Logger) *ReminderService {
	if cfg.Lead <= 0 {
		cfg.Lead = 24 * time.Hour
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &ReminderService{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// Run performs one scan-and-queue pass.
func (s *ReminderService) Run(ctx context.Context) error {
	from := s.now().Truncate(s.cfg.Interval).Add(s.cfg.Lead)
	to := from.Add(s.cfg.Interval)

	upcoming, err := s.store.ListStartingBetween(ctx, from, to)
	if err != nil {
		return fmt.Errorf("list upcoming appointments: %w", err)
	}

	queued := 0
	for i := range upcoming {
		appt := &upcoming[i]
		body := fmt.Sprintf("Reminder: you have a %s appointment", appt.Type)
		if appt.Slot != nil {
			body = fmt.Sprintf("Reminder: you have a %s appointment at %s", appt.Type, appt.Slot.StartTime.Format(time.RFC1123))
		}
		err := s.notifier.Notify(ctx, notify.Message{
			UserID:   appt.PatientID,
			Body:     body,
			Channel:  notify.ChannelSMS,
			Priority: notify.PriorityNormal,
			RefID:    appt.ID,
		})
		if err != nil {
			s.log.Warn().Err(err).Stringer("appointment_id", appt.ID).Msg("reminder enqueue failed")
			continue
		}
		queued++
	}

	if queued > 0 {
		s.log.Info().Int("queued", queued).Time("window_start", from).Msg("reminders queued")
	}
	return nil
}
