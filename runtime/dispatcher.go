// Package runtime routes inbound events to the worker of the room they target.
// It owns presence and room workers without containing the delivery rules themselves.
package runtime

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"polyglot-chat/contract"
	"polyglot-chat/domain"
	"polyglot-chat/domain/event"
	"polyglot-chat/errors"
	"polyglot-chat/runtime/workers"

	"github.com/abadojack/whatlanggo"
)

var _ contract.IDispatcher = (*Dispatcher)(nil)

const minDetectionConfidence = 0.8

type DispatcherConfig struct {
	BufferSize                int
	DeliveryTimeout           time.Duration
	TranslationTimeout        time.Duration
	MaxConcurrentTranslations int
	HistoryLimit              int
}

// Dispatcher is the broadcast engine: join replay, message fan-out,
// language changes and disconnects.
//
// Events for one room are executed by that room's worker in arrival order.
// Room workers are created on first use and supervised until Stop.
type Dispatcher struct {
	mu           sync.Mutex
	log          *slog.Logger
	supervisor   contract.ISupervisor
	registry     contract.IPresence
	translations *workers.TranslationFanout
	sink         contract.Sink
	archive      contract.IMessageArchive
	moderator    contract.IModerator
	rooms        map[string]*workers.RoomWorker
	config       DispatcherConfig
	ctx          context.Context
	cancel       context.CancelFunc
	now          func() time.Time
}

// NewDispatcher wires the engine. archive and moderator are optional.
func NewDispatcher(log *slog.Logger, supervisor contract.ISupervisor,
	registry contract.IPresence, translator contract.Translator, sink contract.Sink,
	archive contract.IMessageArchive, moderator contract.IModerator, config DispatcherConfig) *Dispatcher {
	if config.HistoryLimit <= 0 || config.HistoryLimit > domain.MaxRoomHistory {
		config.HistoryLimit = domain.MaxRoomHistory
	}
	return &Dispatcher{
		log:          log,
		supervisor:   supervisor,
		registry:     registry,
		translations: workers.NewTranslationFanout(translator, log, config.TranslationTimeout, config.MaxConcurrentTranslations),
		sink:         sink,
		archive:      archive,
		moderator:    moderator,
		rooms:        make(map[string]*workers.RoomWorker),
		config:       config,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Start makes the dispatcher accept events. Workers live until ctx is canceled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx != nil {
		return
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.log.Info("Dispatcher started")
}

// Stop cancels every room worker and waits for them to return.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.cancel == nil {
		d.mu.Unlock()
		return
	}
	d.log.Info("Requesting dispatcher shutdown")
	// Canceling under the lock guarantees no room worker is started afterwards.
	d.cancel()
	d.mu.Unlock()
	d.supervisor.Wait()
	d.log.Debug("All room workers stopped")
}

func (d *Dispatcher) Join(ctx context.Context, connectionID string, req domain.JoinRequest) error {
	valid, err := req.Validate()
	if err != nil {
		return d.reject(ctx, connectionID, err)
	}
	lang, err := domain.ParseLanguage(valid.Language)
	if err != nil {
		return d.reject(ctx, connectionID, err)
	}
	if _, err := d.registry.Lookup(connectionID); err == nil {
		return d.reject(ctx, connectionID, errors.ErrDuplicateConnection)
	}
	return d.reject(ctx, connectionID, d.submit(ctx, domain.JoinCommand{
		ConnectionID: connectionID,
		DisplayName:  valid.DisplayName,
		Language:     lang,
		Room:         valid.Room,
		At:           d.now(),
	}))
}

func (d *Dispatcher) Send(ctx context.Context, connectionID string, req domain.SendRequest) error {
	profile, err := d.registry.Lookup(connectionID)
	if err != nil {
		return d.reject(ctx, connectionID, errors.ErrNotAuthenticated)
	}
	valid, err := req.Validate()
	if err != nil {
		return d.reject(ctx, connectionID, err)
	}
	content := valid.Content
	if d.moderator != nil {
		content = d.moderator.Censor(content)
	}
	return d.reject(ctx, connectionID, d.submit(ctx, domain.SendCommand{
		ConnectionID: connectionID,
		Room:         profile.Room,
		Content:      content,
		Detected:     d.detectLanguage(profile, content),
		At:           d.now(),
	}))
}

func (d *Dispatcher) ChangeLanguage(ctx context.Context, connectionID string, req domain.ChangeLanguageRequest) error {
	profile, err := d.registry.Lookup(connectionID)
	if err != nil {
		return d.reject(ctx, connectionID, errors.ErrNotAuthenticated)
	}
	lang, err := req.Validate()
	if err != nil {
		return d.reject(ctx, connectionID, err)
	}
	return d.reject(ctx, connectionID, d.submit(ctx, domain.ChangeLanguageCommand{
		ConnectionID: connectionID,
		Room:         profile.Room,
		Language:     lang,
		At:           d.now(),
	}))
}

// Disconnect is a no-op for connections that never joined or already left.
func (d *Dispatcher) Disconnect(ctx context.Context, connectionID string) error {
	profile, err := d.registry.Lookup(connectionID)
	if err != nil {
		return nil
	}
	err = d.submit(ctx, domain.DisconnectCommand{
		ConnectionID: connectionID,
		Room:         profile.Room,
		At:           d.now(),
	})
	if stderrors.Is(err, errors.ErrNotFound) {
		return nil
	}
	return err
}

func (d *Dispatcher) History(ctx context.Context, connectionID string, req domain.HistoryRequest) error {
	profile, err := d.registry.Lookup(connectionID)
	if err != nil {
		return d.reject(ctx, connectionID, errors.ErrNotAuthenticated)
	}
	valid, err := req.Validate()
	if err != nil {
		return d.reject(ctx, connectionID, err)
	}
	return d.reject(ctx, connectionID, d.submit(ctx, domain.HistoryCommand{
		ConnectionID: connectionID,
		Room:         profile.Room,
		Cursor:       valid.Cursor,
	}))
}

// submit enqueues cmd on its room worker and waits for the outcome.
// Once enqueued the command runs to completion even if ctx is canceled.
func (d *Dispatcher) submit(ctx context.Context, cmd domain.Command) error {
	worker, lifetime, err := d.roomWorker(cmd.RoomID())
	if err != nil {
		return err
	}
	env := workers.NewEnvelope(cmd)
	select {
	case worker.Commands() <- env:
	case <-ctx.Done():
		worker.Release()
		return ctx.Err()
	case <-lifetime.Done():
		worker.Release()
		return errors.ErrStopped
	}
	select {
	case err := <-env.Reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-lifetime.Done():
		return errors.ErrStopped
	}
}

// roomWorker returns the worker of room, starting it on first use.
// The worker comes back acquired: the caller enqueues one envelope or releases it.
func (d *Dispatcher) roomWorker(room string) (*workers.RoomWorker, context.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return nil, nil, errors.ErrNotStarted
	}
	if d.ctx.Err() != nil {
		return nil, nil, errors.ErrStopped
	}
	worker, ok := d.rooms[room]
	if !ok {
		worker = workers.NewRoomWorker(
			domain.NewRoom(room), d.registry, d.translations, d.sink, d.archive, d.log,
			d.config.BufferSize, d.config.DeliveryTimeout, d.config.HistoryLimit,
		).WithRetire(d.retire)
		d.rooms[room] = worker
		d.supervisor.Start(d.ctx, worker)
		d.log.Debug("Room worker started", "room", room)
	}
	worker.Acquire()
	return worker, d.ctx, nil
}

// retire drops an idle room worker. Workers are acquired under the same lock,
// so a worker that is not busy here can never receive another envelope.
func (d *Dispatcher) retire(worker *workers.RoomWorker) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rooms[worker.Name()] != worker || worker.Busy() {
		return false
	}
	delete(d.rooms, worker.Name())
	return true
}

// reject reports user-facing failures privately to the originating connection.
func (d *Dispatcher) reject(ctx context.Context, connectionID string, err error) error {
	if err == nil || !errors.IsUserFacing(err) {
		return err
	}
	if deliverErr := d.sink.Deliver(ctx, connectionID, event.Error{Message: err.Error()}); deliverErr != nil {
		d.log.Warn("Error not delivered", "connection_id", connectionID, "error", deliverErr)
	}
	return err
}

// detectLanguage returns the language the content is confidently written in, empty otherwise.
// It never changes routing: the declared language stays the translation source.
func (d *Dispatcher) detectLanguage(profile domain.UserProfile, content string) domain.Language {
	info := whatlanggo.Detect(content)
	if info.Confidence < minDetectionConfidence {
		return ""
	}
	detected, ok := domain.LanguageFromISO6391(info.Lang.Iso6391())
	if !ok {
		return ""
	}
	if detected != profile.Language {
		d.log.Debug("Declared language differs from detected one",
			"connection_id", profile.ConnectionID,
			"declared", profile.Language,
			"detected", detected,
			"confidence", info.Confidence)
	}
	return detected
}
