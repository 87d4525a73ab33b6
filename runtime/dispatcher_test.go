package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"polyglot-chat/contract"
	"polyglot-chat/domain"
	"polyglot-chat/domain/event"
	"polyglot-chat/errors"
	"polyglot-chat/mocks"
	"polyglot-chat/runtime/workers"

	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type recordingSink struct {
	mu         sync.Mutex
	deliveries map[string][]event.Outbound
}

func newRecordingSink() *recordingSink {
	return &recordingSink{deliveries: make(map[string][]event.Outbound)}
}

func (s *recordingSink) Deliver(_ context.Context, connectionID string, e event.Outbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[connectionID] = append(s.deliveries[connectionID], e)
	return nil
}

func (s *recordingSink) events(connectionID string) []event.Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Outbound(nil), s.deliveries[connectionID]...)
}

func (s *recordingSink) types(connectionID string) []string {
	return lo.Map(s.events(connectionID), func(e event.Outbound, _ int) string { return e.Type() })
}

func (s *recordingSink) messages(connectionID string) []event.ReceiveMessage {
	var out []event.ReceiveMessage
	for _, e := range s.events(connectionID) {
		if m, ok := e.(event.ReceiveMessage); ok {
			out = append(out, m)
		}
	}
	return out
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = make(map[string][]event.Outbound)
}

type translatorFunc func(ctx context.Context, text string, source, target domain.Language) string

func (f translatorFunc) Translate(ctx context.Context, text string, source, target domain.Language) string {
	return f(ctx, text, source, target)
}

// echoTranslator prefixes the text with the target so translations are recognisable.
var echoTranslator = translatorFunc(func(_ context.Context, text string, _, target domain.Language) string {
	return fmt.Sprintf("[%s] %s", target, text)
})

func newTestDispatcher(t *testing.T, translator contract.Translator) (*Dispatcher, *recordingSink, *Registry) {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	sink := newRecordingSink()
	registry := NewRegistry()
	dispatcher := NewDispatcher(log, workers.NewSupervisor(log, 10*time.Millisecond),
		registry, translator, sink, nil, nil,
		DispatcherConfig{
			BufferSize:         16,
			DeliveryTimeout:    time.Second,
			TranslationTimeout: time.Second,
		})
	dispatcher.Start(context.Background())
	t.Cleanup(dispatcher.Stop)
	return dispatcher, sink, registry
}

func join(t *testing.T, d *Dispatcher, connectionID, name string, lang domain.Language, room string) {
	t.Helper()
	err := d.Join(context.Background(), connectionID, domain.JoinRequest{DisplayName: name, Language: string(lang), Room: room})
	require.NoError(t, err)
}

func TestDispatcher_Send_TranslatesPerRecipient(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	translator := mocks.NewMockTranslator(ctrl)
	dispatcher, sink, _ := newTestDispatcher(t, translator)

	// Given A reads english and B reads spanish in r1
	join(t, dispatcher, "A", "Alice", domain.English, "r1")
	join(t, dispatcher, "B", "Bruno", domain.Spanish, "r1")

	// And the gateway knows the spanish rendering
	translator.EXPECT().
		Translate(gomock.Any(), "Hello, how are you?", domain.English, domain.Spanish).
		Return("Hola, ¿cómo estás?").
		Times(1)

	// When A sends a message
	err := dispatcher.Send(ctx, "A", domain.SendRequest{Content: "Hello, how are you?"})
	req.NoError(err)

	// Then A receives its own copy untouched
	own := sink.messages("A")
	req.Len(own, 1)
	req.Equal("Hello, how are you?", own[0].Content)
	req.False(own[0].IsTranslated)
	req.True(own[0].IsOwn)
	req.Equal(domain.English, own[0].OriginalLanguage)

	// And B receives the translation
	other := sink.messages("B")
	req.Len(other, 1)
	req.Equal("Hola, ¿cómo estás?", other[0].Content)
	req.True(other[0].IsTranslated)
	req.False(other[0].IsOwn)
	req.Equal(domain.Spanish, other[0].TargetLanguage)
	req.Equal(own[0].ID, other[0].ID)
}

func TestDispatcher_Send_GatewayAlwaysFailing(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	// Given a gateway degrading to the original text every time
	failing := translatorFunc(func(_ context.Context, text string, _, _ domain.Language) string { return text })
	dispatcher, sink, _ := newTestDispatcher(t, failing)

	join(t, dispatcher, "A", "Alice", domain.English, "r1")
	join(t, dispatcher, "B", "Bruno", domain.Spanish, "r1")
	join(t, dispatcher, "C", "Chloe", domain.Korean, "r1")

	// When several cross-language messages are sent
	for i := 0; i < 3; i++ {
		req.NoError(dispatcher.Send(ctx, "A", domain.SendRequest{Content: fmt.Sprintf("message %d", i)}))
	}

	// Then every recipient got every message, untranslated but flagged as attempted
	for _, id := range []string{"B", "C"} {
		received := sink.messages(id)
		req.Len(received, 3)
		for i, m := range received {
			req.Equal(fmt.Sprintf("message %d", i), m.Content)
			req.True(m.IsTranslated)
		}
	}
}

func TestDispatcher_Send_DeduplicatesPerTargetLanguage(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	translator := mocks.NewMockTranslator(ctrl)
	dispatcher, sink, _ := newTestDispatcher(t, translator)

	join(t, dispatcher, "A", "Alice", domain.English, "r1")
	join(t, dispatcher, "B", "Bruno", domain.Spanish, "r1")
	join(t, dispatcher, "C", "Carmen", domain.Spanish, "r1")

	// Then two spanish readers cost a single call
	translator.EXPECT().
		Translate(gomock.Any(), "Good morning", domain.English, domain.Spanish).
		Return("Buenos días").
		Times(1)

	req.NoError(dispatcher.Send(context.Background(), "A", domain.SendRequest{Content: "Good morning"}))
	req.Equal("Buenos días", sink.messages("B")[0].Content)
	req.Equal("Buenos días", sink.messages("C")[0].Content)
}

func TestDispatcher_Send_SameLanguageNeverCallsGateway(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	translator := mocks.NewMockTranslator(ctrl)
	translator.EXPECT().Translate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	dispatcher, sink, _ := newTestDispatcher(t, translator)

	join(t, dispatcher, "A", "Alice", domain.French, "r1")
	join(t, dispatcher, "B", "Benoît", domain.French, "r1")

	req.NoError(dispatcher.Send(context.Background(), "A", domain.SendRequest{Content: "Salut"}))

	received := sink.messages("B")
	req.Len(received, 1)
	req.False(received[0].IsTranslated)
}

func TestDispatcher_Join_ReplaysHistoryInOrder(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	dispatcher, sink, _ := newTestDispatcher(t, echoTranslator)

	// Given A (english) and B (french) already talked in r1
	join(t, dispatcher, "A", "Alice", domain.English, "r1")
	join(t, dispatcher, "B", "Benoît", domain.French, "r1")
	req.NoError(dispatcher.Send(ctx, "A", domain.SendRequest{Content: "one"}))
	req.NoError(dispatcher.Send(ctx, "B", domain.SendRequest{Content: "deux"}))
	req.NoError(dispatcher.Send(ctx, "A", domain.SendRequest{Content: "three"}))

	// When C, an english reader, joins
	join(t, dispatcher, "C", "Chen", domain.English, "r1")

	// Then C sees the notice, the replay, the user list and the confirmation, in that order
	req.Equal([]string{
		"user_joined",
		"receive_message", "receive_message", "receive_message",
		"update_users",
		"join_success",
	}, sink.types("C"))

	// And the replay keeps log order, translated iff the language differs
	replay := sink.messages("C")
	req.Equal([]string{"one", "[english] deux", "three"},
		lo.Map(replay, func(m event.ReceiveMessage, _ int) string { return m.Content }))
	req.Equal([]bool{false, true, false},
		lo.Map(replay, func(m event.ReceiveMessage, _ int) bool { return m.IsTranslated }))
	req.Equal([]uint64{1, 2, 3},
		lo.Map(replay, func(m event.ReceiveMessage, _ int) uint64 { return m.Seq }))

	// And existing members got the notice and the new list
	events := sink.events("A")
	req.Contains(events, event.UpdateUsers{Room: "r1", DisplayNames: []string{"Alice", "Benoît", "Chen"}})
	req.IsType(event.UpdateUsers{}, events[len(events)-1])
}

func TestDispatcher_Join_ReplayIsBoundedToFifty(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	dispatcher, sink, _ := newTestDispatcher(t, echoTranslator)

	join(t, dispatcher, "A", "Alice", domain.English, "r1")

	// Given 51 sequential sends
	for i := 0; i < domain.MaxRoomHistory+1; i++ {
		req.NoError(dispatcher.Send(ctx, "A", domain.SendRequest{Content: fmt.Sprintf("m%d", i)}))
	}

	// When a new member joins
	join(t, dispatcher, "B", "Bob", domain.English, "r1")

	// Then only the 50 most recent messages are replayed, the oldest is gone
	replay := sink.messages("B")
	req.Len(replay, domain.MaxRoomHistory)
	req.Equal("m1", replay[0].Content)
	req.Equal("m50", replay[len(replay)-1].Content)
}

func TestDispatcher_Join_Rejections(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	dispatcher, sink, registry := newTestDispatcher(t, echoTranslator)

	// A 50 character name is accepted
	join(t, dispatcher, "A", strings.Repeat("a", 50), domain.English, "r1")

	// A 51 character name is rejected privately, nothing is stored
	err := dispatcher.Join(ctx, "B", domain.JoinRequest{DisplayName: strings.Repeat("b", 51), Language: "english", Room: "r1"})
	req.ErrorIs(err, errors.ErrInvalidUsername)
	req.ErrorIs(err, errors.ErrValidation)
	req.Equal([]string{"error"}, sink.types("B"))
	_, err = registry.Lookup("B")
	req.ErrorIs(err, errors.ErrNotFound)

	// An unknown language is rejected
	err = dispatcher.Join(ctx, "C", domain.JoinRequest{DisplayName: "Chloe", Language: "esperanto"})
	req.ErrorIs(err, errors.ErrInvalidLanguage)

	// Joining twice with the same connection is rejected
	err = dispatcher.Join(ctx, "A", domain.JoinRequest{DisplayName: "Again", Language: "english", Room: "r2"})
	req.ErrorIs(err, errors.ErrDuplicateConnection)
	req.Len(registry.MembersOf("r1"), 1)
	req.Empty(registry.MembersOf("r2"))
}

func TestDispatcher_Join_DefaultsToGeneralRoom(t *testing.T) {
	req := require.New(t)
	dispatcher, sink, registry := newTestDispatcher(t, echoTranslator)

	req.NoError(dispatcher.Join(context.Background(), "A", domain.JoinRequest{DisplayName: "Alice", Language: "english"}))

	profile, err := registry.Lookup("A")
	req.NoError(err)
	req.Equal(domain.DefaultRoom, profile.Room)
	req.Contains(sink.events("A"), event.JoinSuccess{Room: domain.DefaultRoom, DisplayName: "Alice", Language: domain.English})
}

func TestDispatcher_Send_Rejections(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	dispatcher, sink, _ := newTestDispatcher(t, echoTranslator)

	// An anonymous connection cannot send
	err := dispatcher.Send(ctx, "ghost", domain.SendRequest{Content: "boo"})
	req.ErrorIs(err, errors.ErrNotAuthenticated)
	req.Equal([]string{"error"}, sink.types("ghost"))

	join(t, dispatcher, "A", "Alice", domain.English, "r1")
	join(t, dispatcher, "B", "Bob", domain.English, "r1")
	sink.reset()

	// 1000 characters pass, 1001 do not
	req.NoError(dispatcher.Send(ctx, "A", domain.SendRequest{Content: strings.Repeat("x", 1000)}))
	err = dispatcher.Send(ctx, "A", domain.SendRequest{Content: strings.Repeat("x", 1001)})
	req.ErrorIs(err, errors.ErrInvalidContent)

	// Blank content is rejected
	err = dispatcher.Send(ctx, "A", domain.SendRequest{Content: "   "})
	req.ErrorIs(err, errors.ErrInvalidContent)

	// Only the valid message reached B, errors stayed private to A
	req.Len(sink.messages("B"), 1)
	req.Equal([]string{"receive_message", "error", "error"}, sink.types("A"))
}

func TestDispatcher_Send_StripsScriptTags(t *testing.T) {
	req := require.New(t)
	dispatcher, sink, _ := newTestDispatcher(t, echoTranslator)
	join(t, dispatcher, "A", "Alice", domain.English, "r1")

	req.NoError(dispatcher.Send(context.Background(), "A", domain.SendRequest{Content: "<script>alert('x')</script>hi"}))

	req.Equal("alert('x')hi", sink.messages("A")[0].Content)
}

func TestDispatcher_ChangeLanguage(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	dispatcher, sink, registry := newTestDispatcher(t, echoTranslator)

	join(t, dispatcher, "A", "Alice", domain.English, "r1")
	join(t, dispatcher, "B", "Bob", domain.English, "r1")
	sink.reset()

	// When B switches to german
	req.NoError(dispatcher.ChangeLanguage(ctx, "B", domain.ChangeLanguageRequest{Language: "german"}))

	// Then only B is told, with both languages
	events := sink.events("B")
	req.Len(events, 1)
	changed, ok := events[0].(event.LanguageChanged)
	req.True(ok)
	req.Equal(domain.German, changed.Language)
	req.Equal(domain.English, changed.PreviousLanguage)
	req.Empty(sink.events("A"))

	profile, err := registry.Lookup("B")
	req.NoError(err)
	req.Equal(domain.German, profile.Language)

	// And later messages reach B in german
	req.NoError(dispatcher.Send(ctx, "A", domain.SendRequest{Content: "hello"}))
	received := sink.messages("B")
	req.Len(received, 1)
	req.Equal("[german] hello", received[0].Content)
	req.True(received[0].IsTranslated)

	// And invalid requests are rejected
	err = dispatcher.ChangeLanguage(ctx, "B", domain.ChangeLanguageRequest{Language: "quenya"})
	req.ErrorIs(err, errors.ErrInvalidLanguage)
	err = dispatcher.ChangeLanguage(ctx, "ghost", domain.ChangeLanguageRequest{Language: "german"})
	req.ErrorIs(err, errors.ErrNotAuthenticated)
}

func TestDispatcher_Disconnect_IsIdempotent(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	dispatcher, sink, registry := newTestDispatcher(t, echoTranslator)

	// Unknown connections produce nothing
	req.NoError(dispatcher.Disconnect(ctx, "ghost"))
	req.Empty(sink.events("ghost"))

	join(t, dispatcher, "A", "Alice", domain.English, "r1")
	join(t, dispatcher, "B", "Bob", domain.Spanish, "r1")
	sink.reset()

	// When B disconnects
	req.NoError(dispatcher.Disconnect(ctx, "B"))

	// Then A is told and gets the smaller list
	req.Equal([]event.Outbound{
		event.UserLeft{DisplayName: "Bob", Message: "Bob left the chat", Timestamp: sink.events("A")[0].(event.UserLeft).Timestamp},
		event.UpdateUsers{Room: "r1", DisplayNames: []string{"Alice"}},
	}, sink.events("A"))
	req.Empty(sink.events("B"))
	req.Len(registry.MembersOf("r1"), 1)

	// And disconnecting again changes nothing
	sink.reset()
	req.NoError(dispatcher.Disconnect(ctx, "B"))
	req.Empty(sink.events("A"))
	req.Empty(sink.events("B"))

	// And B can no longer send
	req.ErrorIs(dispatcher.Send(ctx, "B", domain.SendRequest{Content: "still here?"}), errors.ErrNotAuthenticated)
}

func TestDispatcher_History_WithoutArchiveUsesRoomLog(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	dispatcher, sink, _ := newTestDispatcher(t, echoTranslator)

	join(t, dispatcher, "A", "Alice", domain.English, "r1")
	join(t, dispatcher, "B", "Bruno", domain.Spanish, "r1")
	req.NoError(dispatcher.Send(ctx, "A", domain.SendRequest{Content: "hello"}))
	sink.reset()

	req.NoError(dispatcher.History(ctx, "B", domain.HistoryRequest{}))

	events := sink.events("B")
	req.Len(events, 1)
	history, ok := events[0].(event.History)
	req.True(ok)
	req.Equal("r1", history.Room)
	req.Nil(history.Cursor)
	req.Len(history.Messages, 1)
	req.Equal("[spanish] hello", history.Messages[0].Content)

	req.ErrorIs(dispatcher.History(ctx, "ghost", domain.HistoryRequest{}), errors.ErrNotAuthenticated)
}

func TestDispatcher_Rooms_ProgressIndependently(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	// Given a gateway that hangs for hindi readers until released
	translator := translatorFunc(func(_ context.Context, text string, _, target domain.Language) string {
		if target == domain.Hindi {
			entered <- struct{}{}
			<-release
		}
		return text
	})
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	sink := newRecordingSink()
	dispatcher := NewDispatcher(log, workers.NewSupervisor(log, 10*time.Millisecond),
		NewRegistry(), translator, sink, nil, nil,
		DispatcherConfig{BufferSize: 4, TranslationTimeout: 5 * time.Second})
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	join(t, dispatcher, "A", "Alice", domain.English, "slow")
	join(t, dispatcher, "H", "Harsh", domain.Hindi, "slow")
	join(t, dispatcher, "X", "Xavier", domain.English, "fast")
	join(t, dispatcher, "Y", "Yann", domain.French, "fast")

	// When the slow room is stuck on its translation
	slowDone := make(chan error, 1)
	go func() { slowDone <- dispatcher.Send(ctx, "A", domain.SendRequest{Content: "waiting"}) }()
	<-entered

	// Then the other room still completes its fan-out
	req.NoError(dispatcher.Send(ctx, "X", domain.SendRequest{Content: "not waiting"}))
	req.Len(sink.messages("Y"), 1)

	close(release)
	req.NoError(<-slowDone)
	req.Len(sink.messages("H"), 1)
}

func TestDispatcher_ConcurrentSends_KeepOneOrderPerRoom(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	dispatcher, sink, _ := newTestDispatcher(t, echoTranslator)

	senders := []string{"A", "B", "C"}
	for _, id := range senders {
		join(t, dispatcher, id, "user-"+id, domain.English, "r1")
	}
	join(t, dispatcher, "R", "reader", domain.Japanese, "r1")

	var wg sync.WaitGroup
	for _, id := range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_ = dispatcher.Send(ctx, id, domain.SendRequest{Content: fmt.Sprintf("%s-%d", id, i)})
			}
		}()
	}
	wg.Wait()

	// Then every member observed the same 30 messages in strictly increasing sequence
	for _, id := range append(senders, "R") {
		received := sink.messages(id)
		req.Len(received, 30)
		for i := range received {
			req.Equal(uint64(i+1), received[i].Seq)
		}
	}
}

func TestDispatcher_Send_ModeratesAndArchives(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	archive := mocks.NewMockIMessageArchive(ctrl)
	moderator := mocks.NewMockIModerator(ctrl)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	sink := newRecordingSink()
	dispatcher := NewDispatcher(log, workers.NewSupervisor(log, 10*time.Millisecond),
		NewRegistry(), echoTranslator, sink, archive, moderator, DispatcherConfig{BufferSize: 4})
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	join(t, dispatcher, "A", "Alice", domain.English, "r1")

	// Given the moderator masks a word and the archive accepts the censored message
	moderator.EXPECT().Censor("what a badger").Return("what a ******")
	archive.EXPECT().
		StoreMessage(gomock.Any()).
		DoAndReturn(func(m domain.Message) error {
			req.Equal("what a ******", m.Content)
			req.Equal("r1", m.Room)
			return nil
		})

	// When
	req.NoError(dispatcher.Send(ctx, "A", domain.SendRequest{Content: "what a badger"}))

	// Then the censored text is what members see
	req.Equal("what a ******", sink.messages("A")[0].Content)

	// And history pages through the archive with the given cursor
	cursor := "5"
	next := "3"
	archive.EXPECT().
		GetMessages("r1", &cursor).
		Return([]domain.Message{{Seq: 3, Room: "r1", Content: "older", Language: domain.French}}, &next, nil)
	req.NoError(dispatcher.History(ctx, "A", domain.HistoryRequest{Cursor: &cursor}))

	events := sink.events("A")
	history, ok := events[len(events)-1].(event.History)
	req.True(ok)
	req.Equal(&next, history.Cursor)
	req.Len(history.Messages, 1)
	req.Equal("[english] older", history.Messages[0].Content)
}

// panicOnceSink blows up on the first chat message it sees.
type panicOnceSink struct {
	*recordingSink
	panicked atomic.Bool
}

func (s *panicOnceSink) Deliver(ctx context.Context, connectionID string, e event.Outbound) error {
	if _, ok := e.(event.ReceiveMessage); ok && s.panicked.CompareAndSwap(false, true) {
		panic("sink exploded")
	}
	return s.recordingSink.Deliver(ctx, connectionID, e)
}

func TestDispatcher_RoomWorkerRecoversFromPanic(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	sink := &panicOnceSink{recordingSink: newRecordingSink()}
	dispatcher := NewDispatcher(log, workers.NewSupervisor(log, 10*time.Millisecond),
		NewRegistry(), echoTranslator, sink, nil, nil, DispatcherConfig{BufferSize: 4})
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	join(t, dispatcher, "A", "Alice", domain.English, "r1")

	// When the fan-out panics
	err := dispatcher.Send(ctx, "A", domain.SendRequest{Content: "first"})

	// Then the caller is told and the room keeps serving once restarted
	req.ErrorIs(err, errors.ErrWorkerPanic)
	req.Contains(sink.types("A"), "error")
	req.NoError(dispatcher.Send(ctx, "A", domain.SendRequest{Content: "second"}))
	received := sink.messages("A")
	req.Len(received, 1)
	req.Equal("second", received[0].Content)
	req.Equal(uint64(2), received[0].Seq)
}

func TestDispatcher_NotStarted(t *testing.T) {
	req := require.New(t)
	log := slog.Default()
	sink := newRecordingSink()
	dispatcher := NewDispatcher(log, workers.NewSupervisor(log, time.Millisecond),
		NewRegistry(), echoTranslator, sink, nil, nil, DispatcherConfig{})

	err := dispatcher.Join(context.Background(), "A", domain.JoinRequest{DisplayName: "Alice", Language: "english"})

	req.ErrorIs(err, errors.ErrNotStarted)
}

func roomCount(d *Dispatcher) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rooms)
}

func TestDispatcher_RetiresEmptyRoomWorkers(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	dispatcher, _, _ := newTestDispatcher(t, echoTranslator)

	// When a participant walks through many rooms without writing
	for i := 0; i < 50; i++ {
		join(t, dispatcher, "A", "Alice", domain.English, fmt.Sprintf("room-%d", i))
		req.NoError(dispatcher.Disconnect(ctx, "A"))
	}

	// Then no room worker outlives its room
	req.Eventually(func() bool { return roomCount(dispatcher) == 0 }, time.Second, 5*time.Millisecond)
}

func TestDispatcher_KeepsRoomWorkerWithHistory(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	dispatcher, sink, _ := newTestDispatcher(t, echoTranslator)

	// Given A wrote in r1 and left
	join(t, dispatcher, "A", "Alice", domain.English, "r1")
	req.NoError(dispatcher.Send(ctx, "A", domain.SendRequest{Content: "still here"}))
	req.NoError(dispatcher.Disconnect(ctx, "A"))
	req.Equal(1, roomCount(dispatcher))

	// When B joins later
	join(t, dispatcher, "B", "Bob", domain.English, "r1")

	// Then the message is replayed
	replay := sink.messages("B")
	req.Len(replay, 1)
	req.Equal("still here", replay[0].Content)
}

func TestDispatcher_RetireRacesWithJoin(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	dispatcher, _, _ := newTestDispatcher(t, echoTranslator)

	// When participants keep entering and leaving the same room concurrently
	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				err := dispatcher.Join(ctx, id, domain.JoinRequest{DisplayName: id, Language: "english", Room: "busy"})
				if err == nil {
					err = dispatcher.Disconnect(ctx, id)
				}
				if err != nil {
					failures.Add(1)
				}
			}
		}(fmt.Sprintf("user-%d", i))
	}
	wg.Wait()

	// Then every command was served and the room is released at the end
	req.Zero(failures.Load())
	req.Eventually(func() bool { return roomCount(dispatcher) == 0 }, time.Second, 5*time.Millisecond)
}

func TestDispatcher_Send_ReportsDetectedLanguage(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	dispatcher, sink, _ := newTestDispatcher(t, echoTranslator)

	// Given A declared english
	join(t, dispatcher, "A", "Alice", domain.English, "r1")

	// When A writes in japanese
	req.NoError(dispatcher.Send(ctx, "A", domain.SendRequest{Content: "こんにちは、お元気ですか？"}))

	// Then the declared language stays the source and the detected one is reported
	own := sink.messages("A")
	req.Len(own, 1)
	req.Equal(domain.English, own[0].OriginalLanguage)
	req.Equal(domain.Japanese, own[0].DetectedLanguage)
}
