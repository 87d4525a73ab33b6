package repositories

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"polyglot-chat/contract"
	"polyglot-chat/domain"
	"polyglot-chat/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

var _ contract.IMessageArchive = (*MessageRepository)(nil)

const DefaultPageSize = 20

// MessageRepository archives every room message in badger for paging through history.
// Entries expire after the retention period, nothing survives the process.
type MessageRepository struct {
	db        *badger.DB
	log       *slog.Logger
	retention time.Duration
	pageSize  int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, retention time.Duration, pageSize int) MessageRepository {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return MessageRepository{db: db, log: log, retention: retention, pageSize: pageSize}
}

// OpenInMemory opens a badger instance that lives only as long as the process.
func OpenInMemory() (*badger.DB, error) {
	return badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
}

type diskMessage struct {
	ID                 uuid.UUID       `json:"id"`
	Seq                uint64          `json:"seq"`
	SenderConnectionID string          `json:"senderConnectionId"`
	SenderDisplayName  string          `json:"senderDisplayName"`
	Room               string          `json:"room"`
	Content            string          `json:"content"`
	Language           domain.Language `json:"language"`
	DetectedLanguage   domain.Language `json:"detectedLanguage,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
}

// StoreMessage writes the message under "msg:{hex(room)}:{seq_padded}".
// The room is hex encoded so one room name can never be a prefix of another's keys,
// and the 20 digit padding keeps lexicographical order equal to sequence order.
func (m MessageRepository) StoreMessage(message domain.Message) error {
	value, err := json.Marshal(fromMessage(message))
	if err != nil {
		return err
	}
	entry := badger.NewEntry(messageKey(message.Room, message.Seq), value)
	if m.retention > 0 {
		entry = entry.WithTTL(m.retention)
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	})
}

// GetMessages returns the page of messages older than cursor, oldest first.
// A nil cursor starts from the newest message. The returned cursor is nil once
// the beginning of the archive is reached.
func (m MessageRepository) GetMessages(room string, cursor *string) ([]domain.Message, *string, error) {
	prefix := roomPrefix(room)
	seekKey := append(slices.Clone(prefix), []byte("99999999999999999999")...)
	if cursor != nil {
		seq, err := strconv.ParseUint(*cursor, 10, 64)
		if err != nil {
			return nil, nil, errors.ErrInvalidCursor
		}
		seekKey = messageKey(room, seq)
	}

	var messages []domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		it.Seek(seekKey)
		if cursor != nil && it.ValidForPrefix(prefix) && string(it.Item().Key()) == string(seekKey) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if len(messages) == m.pageSize {
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", m.pageSize))
				break
			}
			err := it.Item().Value(func(value []byte) error {
				var dm diskMessage
				if err := json.Unmarshal(value, &dm); err != nil {
					return err
				}
				messages = append(messages, toMessage(dm))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	slices.Reverse(messages)
	if len(messages) < m.pageSize {
		return messages, nil, nil
	}
	next := strconv.FormatUint(messages[0].Seq, 10)
	return messages, &next, nil
}

func roomPrefix(room string) []byte {
	return []byte(fmt.Sprintf("msg:%s:", hex.EncodeToString([]byte(room))))
}

func messageKey(room string, seq uint64) []byte {
	return append(roomPrefix(room), []byte(fmt.Sprintf("%020d", seq))...)
}

func fromMessage(message domain.Message) diskMessage {
	return diskMessage{
		ID:                 message.ID,
		Seq:                message.Seq,
		SenderConnectionID: message.SenderConnectionID,
		SenderDisplayName:  message.SenderDisplayName,
		Room:               message.Room,
		Content:            message.Content,
		Language:           message.Language,
		DetectedLanguage:   message.DetectedLanguage,
		CreatedAt:          message.CreatedAt,
	}
}

func toMessage(dm diskMessage) domain.Message {
	return domain.Message{
		ID:                 dm.ID,
		Seq:                dm.Seq,
		SenderConnectionID: dm.SenderConnectionID,
		SenderDisplayName:  dm.SenderDisplayName,
		Room:               dm.Room,
		Content:            dm.Content,
		Language:           dm.Language,
		DetectedLanguage:   dm.DetectedLanguage,
		CreatedAt:          dm.CreatedAt.UTC(),
	}
}
