// Package dispatch runs one matching cycle: scan for due reminders, send
// each over the outbound transport at a bounded rate, and remove them.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"remindme/internal/config"
	"remindme/internal/model"
	"remindme/internal/store"
)

// Sender delivers one outbound message. Satisfied by the Twilio client.
type Sender interface {
	SendWhatsAppMessage(to, body string) error
}

// Dispatcher owns the due-scan/send/remove pipeline for the scheduler. The
// rate limiter is a field, not package state, so concurrent dispatchers in
// tests cannot interfere with each other.
type Dispatcher struct {
	store   *store.Store
	sender  Sender
	limiter *rate.Limiter
	policy  config.DeliveryPolicy
	logger  *log.Logger
}

// New builds a Dispatcher that sends at most one message per interval.
func New(st *store.Store, sender Sender, interval time.Duration, policy config.DeliveryPolicy, logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		store:   st,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		policy:  policy,
		logger:  logger,
	}
}

// RunCycle processes every reminder due at or before now, in store order.
// Sends are sequential and limiter-gated, so the Nth reminder never goes
// out before the (N-1)th cleared the limiter. A transport failure is
// logged and never blocks the rest of the cycle; whether the failed
// reminder is removed or retried next cycle is the delivery policy's call.
// Store errors abort only the current cycle, never the scheduler.
func (d *Dispatcher) RunCycle(ctx context.Context, now time.Time) {
	due, err := d.store.DueBy(ctx, now.Truncate(time.Minute))
	if err != nil {
		d.logger.Printf("dispatch: due scan failed, skipping cycle: %v", err)
		return
	}

	for _, r := range due {
		if err := d.limiter.Wait(ctx); err != nil {
			d.logger.Printf("dispatch: limiter wait aborted: %v", err)
			return
		}

		sendErr := d.sender.SendWhatsAppMessage(r.Recipient, FiredMessage(r))
		if sendErr != nil {
			d.logger.Printf("dispatch: send reminder %d to %s failed: %v", r.ID, r.Recipient, sendErr)
			if d.policy == config.AtLeastOnce {
				// Keep the row; the next cycle's range scan retries it.
				continue
			}
		}

		// Removal is per record so one failure cannot strand the others.
		if err := d.store.DeleteByID(ctx, r.ID); err != nil {
			d.logger.Printf("dispatch: remove reminder %d failed: %v", r.ID, err)
		}
	}
}

// FiredMessage is the text delivered when a reminder comes due.
func FiredMessage(r model.Reminder) string {
	return fmt.Sprintf("Here's your reminder for *%s* now.", r.Topic)
}
