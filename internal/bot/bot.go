package bot

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"remindme/internal/config"
	"remindme/internal/dispatch"
	"remindme/internal/model"
	myopenai "remindme/internal/openai"
	"remindme/internal/parse"
	"remindme/internal/store"
)

// Bot coordinates reminder persistence, parsing, dispatch, and the
// inbound Twilio webhook.
type Bot struct {
	cfg        *config.Config
	store      *store.Store
	openAI     *myopenai.Client
	dispatcher *dispatch.Dispatcher
	cron       *cron.Cron
	logger     *log.Logger
}

// New creates a fully configured Bot instance.
func New(cfg *config.Config, st *store.Store, openAI *myopenai.Client, sender dispatch.Sender, logger *log.Logger) *Bot {
	// SkipIfStillRunning keeps matching cycles from overlapping when a
	// cycle outlives its minute (slow store, many throttled sends).
	c := cron.New(
		cron.WithLocation(cfg.LocalTimezone),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
	)
	return &Bot{
		cfg:        cfg,
		store:      st,
		openAI:     openAI,
		dispatcher: dispatch.New(st, sender, cfg.SendInterval, cfg.DeliveryPolicy, logger),
		cron:       c,
		logger:     logger,
	}
}

// StartScheduler begins the once-a-minute due-reminder scan.
func (b *Bot) StartScheduler() error {
	_, err := b.cron.AddFunc("* * * * *", func() {
		b.dispatcher.RunCycle(context.Background(), time.Now().In(b.cfg.LocalTimezone))
	})
	if err != nil {
		return err
	}
	b.cron.Start()
	return nil
}

// StopScheduler stops the cron scheduler and waits for a running cycle.
func (b *Bot) StopScheduler() {
	ctx := b.cron.Stop()
	<-ctx.Done()
}

// CreateFromText parses free text and stores the resulting reminder.
// The returned errors are parse.ErrInvalidFormat, parse.ErrPastDateTime,
// or a store failure.
func (b *Bot) CreateFromText(ctx context.Context, rawText, recipient string, now time.Time) (model.Reminder, error) {
	result, err := parse.Normalize(rawText, now)
	if err != nil {
		return model.Reminder{}, err
	}

	reminder := model.Reminder{
		Recipient:   recipient,
		Topic:       result.Topic,
		Phrase:      result.Phrase,
		ScheduledAt: result.ScheduledAt,
	}
	if err := b.store.Insert(ctx, &reminder); err != nil {
		return model.Reminder{}, fmt.Errorf("save reminder: %w", err)
	}
	return reminder, nil
}

// Cancel removes the one pending reminder matching key (ID or exact topic)
// for the given recipient. Returns store.ErrNotFound when nothing matches.
func (b *Bot) Cancel(ctx context.Context, key, recipient string) error {
	reminder, err := b.store.FindByKey(ctx, recipient, key)
	if err != nil {
		return err
	}
	return b.store.DeleteByID(ctx, reminder.ID)
}

// List returns the recipient's pending reminders, soonest first.
func (b *Bot) List(ctx context.Context, recipient string) ([]model.Reminder, error) {
	return b.store.ListByRecipient(ctx, recipient)
}

// Handler returns the HTTP handler for incoming Twilio messages.
func (b *Bot) Handler() http.HandlerFunc {
	return b.handleIncomingMessage
}

// handleIncomingMessage processes Twilio webhook POST requests.
func (b *Bot) handleIncomingMessage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		b.logger.Printf("webhook: parse error: %v", err)
		b.writeTwilioResponse(w, "Sorry, I couldn't understand that request.")
		return
	}

	from := r.FormValue("From")
	body := strings.TrimSpace(r.FormValue("Body"))
	if from == "" || body == "" {
		b.writeTwilioResponse(w, "I need a message to work with. Please try again.")
		return
	}

	recipient := sanitizeWhatsAppNumber(from)
	lowerBody := strings.ToLower(body)
	action, rest := splitAction(lowerBody)

	switch {
	case action == "set" || strings.HasPrefix(lowerBody, "remind"):
		b.replyCreate(r.Context(), w, lowerBody, recipient)
	case action == "cancel":
		b.replyCancel(r.Context(), w, rest, recipient)
	case action == "view" || action == "list":
		b.replyList(r.Context(), w, recipient)
	case action == "help":
		b.writeTwilioResponse(w, helpResponse())
	default:
		b.replyFallback(r.Context(), w, body, recipient)
	}
}

func (b *Bot) replyCreate(ctx context.Context, w http.ResponseWriter, body, recipient string) {
	reminder, err := b.CreateFromText(ctx, body, recipient, time.Now().In(b.cfg.LocalTimezone))
	switch {
	case errors.Is(err, parse.ErrInvalidFormat):
		b.writeTwilioResponse(w, "Please enter valid inputs and try again. I need a topic, a date like *15th june*, and a time like *5pm*.")
	case errors.Is(err, parse.ErrPastDateTime):
		b.writeTwilioResponse(w, "Reminder time given in past. I hope you know time travel isn't possible yet.")
	case err != nil:
		b.logger.Printf("webhook: create reminder: %v", err)
		b.writeTwilioResponse(w, "I couldn't save the reminder. Please try again.")
	default:
		b.writeTwilioResponse(w, fmt.Sprintf("Got it! I'll remind you about *%s* at *%s*.",
			reminder.Topic, reminder.ScheduledAt.Format("Jan 2 15:04")))
	}
}

func (b *Bot) replyCancel(ctx context.Context, w http.ResponseWriter, key, recipient string) {
	if strings.TrimSpace(key) == "" {
		b.writeTwilioResponse(w, "Tell me which reminder to cancel, e.g. *cancel call mom*.")
		return
	}

	err := b.Cancel(ctx, key, recipient)
	switch {
	case errors.Is(err, store.ErrNotFound):
		b.writeTwilioResponse(w, "I couldn't find that reminder.")
	case err != nil:
		b.logger.Printf("webhook: cancel reminder: %v", err)
		b.writeTwilioResponse(w, "Hmm, I couldn't cancel that reminder. Please try again later.")
	default:
		b.writeTwilioResponse(w, "Reminder deleted successfully.")
	}
}

func (b *Bot) replyList(ctx context.Context, w http.ResponseWriter, recipient string) {
	reminders, err := b.List(ctx, recipient)
	if err != nil {
		b.logger.Printf("webhook: list reminders: %v", err)
		b.writeTwilioResponse(w, "Hmm, I couldn't fetch your reminders. Please try again later.")
		return
	}
	if len(reminders) == 0 {
		b.writeTwilioResponse(w, "You don't have any upcoming tasks. Create some first. Type *set* followed by your reminder to get started.")
		return
	}

	lines := make([]string, 0, len(reminders))
	for _, r := range reminders {
		lines = append(lines, fmt.Sprintf("*%s* at *%s*", r.Topic, r.ScheduledAt.Format("Jan 2 15:04")))
	}
	b.writeTwilioResponse(w, strings.Join(lines, "\n"))
}

// replyFallback asks the optional language model what the user meant when
// the command keyword was not recognized. Date and time parsing is never
// delegated here.
func (b *Bot) replyFallback(ctx context.Context, w http.ResponseWriter, body, recipient string) {
	intent, err := b.openAI.ClassifyIntent(ctx, body)
	if err != nil && !errors.Is(err, myopenai.ErrClientNotInitialised) {
		b.logger.Printf("webhook: intent classification: %v", err)
	}

	switch intent {
	case myopenai.IntentSetReminder:
		b.replyCreate(ctx, w, strings.ToLower(body), recipient)
	case myopenai.IntentViewReminders:
		b.replyList(ctx, w, recipient)
	case myopenai.IntentCancelReminder:
		b.writeTwilioResponse(w, "Tell me which reminder to cancel, e.g. *cancel call mom*.")
	case myopenai.IntentHelp:
		b.writeTwilioResponse(w, helpResponse())
	default:
		b.writeTwilioResponse(w, "I don't know what that means. Try *set*, *cancel* or *view*.")
	}
}

func (b *Bot) writeTwilioResponse(w http.ResponseWriter, message string) {
	twiml := struct {
		XMLName xml.Name `xml:"Response"`
		Message string   `xml:"Message"`
	}{
		Message: message,
	}

	w.Header().Set("Content-Type", "application/xml")
	if err := xml.NewEncoder(w).Encode(twiml); err != nil {
		b.logger.Printf("twilio response encode: %v", err)
	}
}

// RunCycleNow triggers one matching cycle outside the scheduler. Used by
// tests and manual pokes; the scheduler path goes through cron.
func (b *Bot) RunCycleNow(ctx context.Context, now time.Time) {
	b.dispatcher.RunCycle(ctx, now)
}

func splitAction(body string) (action, rest string) {
	action, rest, _ = strings.Cut(body, " ")
	return action, strings.TrimSpace(rest)
}

func sanitizeWhatsAppNumber(from string) string {
	// Twilio prepends whatsapp: to the number.
	return strings.TrimPrefix(from, "whatsapp:")
}

func helpResponse() string {
	return "You can say things like:\n- *set call mom 15th june 5pm* to add a reminder\n- *view* to see everything pending\n- *cancel call mom* to remove one"
}
