//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
	"time"

	"polyglot-chat/domain"
	"polyglot-chat/domain/event"
)

// ISupervisor keeps workers running until their context is canceled.
type ISupervisor interface {
	Start(ctx context.Context, worker Worker)
	Wait()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// Workers implementing fmt.Stringer are named by their String method instead.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	if s, ok := w.(interface{ String() string }); ok {
		return s.String()
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Translator renders text from one language to another.
// It never fails: on any problem it returns text unchanged.
type Translator interface {
	Translate(ctx context.Context, text string, source, target domain.Language) string
}

// Sink delivers one payload to one live connection.
type Sink interface {
	Deliver(ctx context.Context, connectionID string, e event.Outbound) error
}

type IPresence interface {
	Register(connectionID, displayName, language, room string, joinedAt time.Time) (domain.UserProfile, error)
	Unregister(connectionID string) (domain.UserProfile, error)
	UpdateLanguage(connectionID, language string) (domain.Language, error)
	MembersOf(room string) []domain.UserProfile
	Lookup(connectionID string) (domain.UserProfile, error)
}

type IMessageArchive interface {
	StoreMessage(message domain.Message) error
	GetMessages(room string, cursor *string) ([]domain.Message, *string, error)
}

type IModerator interface {
	Censor(original string) string
}

// IDispatcher is the inbound side of the core, called by the transport.
type IDispatcher interface {
	Join(ctx context.Context, connectionID string, req domain.JoinRequest) error
	Send(ctx context.Context, connectionID string, req domain.SendRequest) error
	ChangeLanguage(ctx context.Context, connectionID string, req domain.ChangeLanguageRequest) error
	Disconnect(ctx context.Context, connectionID string) error
	History(ctx context.Context, connectionID string, req domain.HistoryRequest) error
}
