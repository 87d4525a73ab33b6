package workers

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"polyglot-chat/contract"
	"polyglot-chat/domain"
	"polyglot-chat/domain/event"
	"polyglot-chat/errors"

	"github.com/samber/lo"
)

var _ contract.Worker = (*RoomWorker)(nil)

// Envelope carries a command and the channel its outcome is reported on.
type Envelope struct {
	Command domain.Command
	Reply   chan error
}

func NewEnvelope(cmd domain.Command) Envelope {
	return Envelope{Command: cmd, Reply: make(chan error, 1)}
}

// RoomWorker executes every command of one room, one at a time.
// Appends to the room log and membership snapshots therefore follow a single
// total order per room, while distinct rooms run on distinct workers.
type RoomWorker struct {
	room            *domain.Room
	commands        chan Envelope
	registry        contract.IPresence
	translations    *TranslationFanout
	sink            contract.Sink
	archive         contract.IMessageArchive
	log             *slog.Logger
	deliveryTimeout time.Duration
	historyLimit    int
	pending         atomic.Int64
	retire          func(*RoomWorker) bool
}

func NewRoomWorker(
	room *domain.Room,
	registry contract.IPresence,
	translations *TranslationFanout,
	sink contract.Sink,
	archive contract.IMessageArchive,
	log *slog.Logger,
	bufferSize int,
	deliveryTimeout time.Duration,
	historyLimit int) *RoomWorker {
	return &RoomWorker{
		room:            room,
		commands:        make(chan Envelope, bufferSize),
		registry:        registry,
		translations:    translations,
		sink:            sink,
		archive:         archive,
		log:             log.With("room", room.Name),
		deliveryTimeout: deliveryTimeout,
		historyLimit:    historyLimit,
	}
}

func (w *RoomWorker) String() string {
	return fmt.Sprintf("RoomWorker[%s]", w.room.Name)
}

// WithRetire lets the worker ask its owner to drop it once the room holds
// neither members nor messages. retire reports whether the owner agreed.
func (w *RoomWorker) WithRetire(retire func(*RoomWorker) bool) *RoomWorker {
	w.retire = retire
	return w
}

func (w *RoomWorker) Name() string {
	return w.room.Name
}

// Commands is the inbox of the worker. Every send must be preceded by Acquire.
func (w *RoomWorker) Commands() chan<- Envelope {
	return w.commands
}

// Acquire announces an envelope about to be enqueued.
// The worker releases it when the envelope is dequeued.
func (w *RoomWorker) Acquire() {
	w.pending.Add(1)
}

// Release withdraws an announced envelope that was never enqueued.
func (w *RoomWorker) Release() {
	w.pending.Add(-1)
}

// Busy reports whether an envelope is announced or queued but not yet picked up.
func (w *RoomWorker) Busy() bool {
	return w.pending.Load() > 0
}

func (w *RoomWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping worker")
			return ctx.Err()
		case env, ok := <-w.commands:
			if !ok {
				w.log.Debug("Channel is closed")
				return nil
			}
			w.Release()
			if err := w.process(ctx, env); err != nil {
				return err
			}
			if w.retire != nil && w.vacant() && w.retire(w) {
				w.log.Debug("Room is empty, worker retired")
				return nil
			}
		}
	}
}

// vacant reports a room without members and without messages.
// Only this worker changes either, so the answer holds until a new envelope is acquired.
func (w *RoomWorker) vacant() bool {
	return w.room.Len() == 0 && len(w.registry.MembersOf(w.room.Name)) == 0
}

// process answers the envelope even when the handler panics,
// then lets the supervisor restart the worker.
func (w *RoomWorker) process(ctx context.Context, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Command handling panicked", "command", fmt.Sprintf("%T", env.Command), "panic", r)
			env.Reply <- errors.ErrWorkerPanic
			err = errors.ErrWorkerPanic
		}
	}()
	env.Reply <- w.handle(ctx, env.Command)
	return nil
}

func (w *RoomWorker) handle(ctx context.Context, cmd domain.Command) error {
	switch c := cmd.(type) {
	case domain.JoinCommand:
		return w.join(ctx, c)
	case domain.SendCommand:
		return w.send(ctx, c)
	case domain.ChangeLanguageCommand:
		return w.changeLanguage(ctx, c)
	case domain.DisconnectCommand:
		return w.disconnect(ctx, c)
	case domain.HistoryCommand:
		return w.history(ctx, c)
	default:
		return fmt.Errorf("unsupported command %T", cmd)
	}
}

func (w *RoomWorker) join(ctx context.Context, c domain.JoinCommand) error {
	profile, err := w.registry.Register(c.ConnectionID, c.DisplayName, string(c.Language), w.room.Name, c.At)
	if err != nil {
		return err
	}
	w.log.Info("Participant joined", "connection_id", profile.ConnectionID, "language", profile.Language)

	w.broadcast(ctx, event.UserJoined{
		DisplayName: profile.DisplayName,
		Message:     fmt.Sprintf("%s joined the chat", profile.DisplayName),
		Timestamp:   c.At,
	})
	w.replay(ctx, profile)
	w.broadcastUsers(ctx)
	w.deliver(ctx, profile.ConnectionID, event.JoinSuccess{
		Room:        profile.Room,
		DisplayName: profile.DisplayName,
		Language:    profile.Language,
	})
	return nil
}

// replay sends the recent log privately to the joining connection, in log order.
func (w *RoomWorker) replay(ctx context.Context, profile domain.UserProfile) {
	messages := w.room.Recent(w.historyLimit)
	for _, rendered := range w.render(ctx, messages, profile) {
		w.deliver(ctx, profile.ConnectionID, rendered)
	}
}

func (w *RoomWorker) send(ctx context.Context, c domain.SendCommand) error {
	sender, err := w.member(c.ConnectionID)
	if err != nil {
		return err
	}

	msg := w.room.PostMessage(sender, c.Content, sender.Language, c.Detected, c.At)
	if w.archive != nil {
		if err := w.archive.StoreMessage(msg); err != nil {
			w.log.Warn("Message not archived", "message_id", msg.ID, "error", err)
		}
	}

	recipients := w.registry.MembersOf(w.room.Name)
	requests := lo.Map(recipients, func(p domain.UserProfile, _ int) TranslationRequest {
		return TranslationRequest{Text: msg.Content, Source: msg.Language, Target: p.Language}
	})
	contents := w.translations.Resolve(ctx, requests)

	for i, recipient := range recipients {
		w.deliver(ctx, recipient.ConnectionID,
			event.NewReceiveMessage(msg, contents[i], recipient.Language, recipient.ConnectionID))
	}
	w.log.Debug("Message fanned out", "message_id", msg.ID, "seq", msg.Seq, "recipients", len(recipients))
	return nil
}

func (w *RoomWorker) changeLanguage(ctx context.Context, c domain.ChangeLanguageCommand) error {
	if _, err := w.member(c.ConnectionID); err != nil {
		return err
	}
	previous, err := w.registry.UpdateLanguage(c.ConnectionID, string(c.Language))
	if stderrors.Is(err, errors.ErrNotFound) {
		return errors.ErrNotAuthenticated
	}
	if err != nil {
		return err
	}
	w.deliver(ctx, c.ConnectionID, event.LanguageChanged{
		Language:         c.Language,
		PreviousLanguage: previous,
		Timestamp:        c.At,
	})
	return nil
}

// disconnect is idempotent: an unknown connection is not an error.
func (w *RoomWorker) disconnect(ctx context.Context, c domain.DisconnectCommand) error {
	profile, err := w.registry.Unregister(c.ConnectionID)
	if stderrors.Is(err, errors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	w.log.Info("Participant left", "connection_id", profile.ConnectionID)

	w.broadcast(ctx, event.UserLeft{
		DisplayName: profile.DisplayName,
		Message:     fmt.Sprintf("%s left the chat", profile.DisplayName),
		Timestamp:   c.At,
	})
	w.broadcastUsers(ctx)
	return nil
}

// history pages the archive, falling back to the in-memory log when no archive is wired.
func (w *RoomWorker) history(ctx context.Context, c domain.HistoryCommand) error {
	requester, err := w.member(c.ConnectionID)
	if err != nil {
		return err
	}

	var (
		messages []domain.Message
		cursor   *string
	)
	if w.archive != nil {
		messages, cursor, err = w.archive.GetMessages(w.room.Name, c.Cursor)
		if err != nil {
			return err
		}
	} else {
		messages = w.room.Recent(w.historyLimit)
	}

	w.deliver(ctx, c.ConnectionID, event.History{
		Room:     w.room.Name,
		Messages: w.render(ctx, messages, requester),
		Cursor:   cursor,
	})
	return nil
}

// render translates messages for one reader, preserving their order.
func (w *RoomWorker) render(ctx context.Context, messages []domain.Message, reader domain.UserProfile) []event.ReceiveMessage {
	requests := lo.Map(messages, func(m domain.Message, _ int) TranslationRequest {
		return TranslationRequest{Text: m.Content, Source: m.Language, Target: reader.Language}
	})
	contents := w.translations.Resolve(ctx, requests)
	return lo.Map(messages, func(m domain.Message, i int) event.ReceiveMessage {
		return event.NewReceiveMessage(m, contents[i], reader.Language, reader.ConnectionID)
	})
}

// member resolves a connection that must currently belong to this room.
func (w *RoomWorker) member(connectionID string) (domain.UserProfile, error) {
	profile, err := w.registry.Lookup(connectionID)
	if err != nil || profile.Room != w.room.Name {
		return domain.UserProfile{}, errors.ErrNotAuthenticated
	}
	return profile, nil
}

func (w *RoomWorker) broadcastUsers(ctx context.Context) {
	members := w.registry.MembersOf(w.room.Name)
	w.broadcastTo(ctx, members, event.UpdateUsers{
		Room:         w.room.Name,
		DisplayNames: lo.Map(members, func(p domain.UserProfile, _ int) string { return p.DisplayName }),
	})
}

func (w *RoomWorker) broadcast(ctx context.Context, e event.Outbound) {
	w.broadcastTo(ctx, w.registry.MembersOf(w.room.Name), e)
}

func (w *RoomWorker) broadcastTo(ctx context.Context, members []domain.UserProfile, e event.Outbound) {
	for _, member := range members {
		w.deliver(ctx, member.ConnectionID, e)
	}
}

// deliver bounds each delivery so a stuck connection cannot stall the room.
func (w *RoomWorker) deliver(ctx context.Context, connectionID string, e event.Outbound) {
	if w.deliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.deliveryTimeout)
		defer cancel()
	}
	if err := w.sink.Deliver(ctx, connectionID, e); err != nil {
		w.log.Warn("Delivery failed", "connection_id", connectionID, "type", e.Type(), "error", err)
	}
}
