// Package history persists chat transcripts across restarts in a local
// bbolt database. One bucket holds all transcripts, keyed by conversation
// name, each value a JSON-encoded message slice.
package history

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/temporalos/chatkit/internal/chat"
	"github.com/temporalos/chatkit/internal/groupchat"
	"github.com/temporalos/chatkit/internal/logging"
)

var bucketTranscripts = []byte("transcripts")

const chatKey = "chat"

// Store is a transcript store backed by a single bbolt file.
type Store struct {
	db  *bolt.DB
	log *logging.Logger
}

// Open opens or creates the database at path.
func Open(path string, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.NewNop()
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history db %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTranscripts)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init history db: %w", err)
	}
	log.Info("history db opened", zap.String("path", path))
	return &Store{db: db, log: log}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveChat persists the assistant conversation transcript.
func (s *Store) SaveChat(messages []chat.Message) error {
	return s.save(chatKey, messages)
}

// LoadChat restores the assistant conversation transcript. A missing
// transcript yields an empty slice, not an error.
func (s *Store) LoadChat() ([]chat.Message, error) {
	var out []chat.Message
	if err := s.load(chatKey, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveGroup persists the timeline for one room.
func (s *Store) SaveGroup(roomID string, messages []groupchat.Message) error {
	return s.save(groupKey(roomID), messages)
}

// LoadGroup restores the timeline for one room.
func (s *Store) LoadGroup(roomID string) ([]groupchat.Message, error) {
	var out []groupchat.Message
	if err := s.load(groupKey(roomID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes one conversation's transcript.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTranscripts).Delete([]byte(key))
	})
}

func groupKey(roomID string) string {
	return "group:" + roomID
}

func (s *Store) save(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode transcript %s: %w", key, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTranscripts).Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("save transcript %s: %w", key, err)
	}
	s.log.Debug("transcript saved", zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}

func (s *Store) load(key string, out any) error {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketTranscripts).Get([]byte(key)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("load transcript %s: %w", key, err)
	}
	if data == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode transcript %s: %w", key, err)
	}
	return nil
}
