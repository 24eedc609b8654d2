package store

import (
	"fmt"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	metadataBucket  = "metadata"
	historyBucket   = "history"
	versionKey      = "version"
	boltFileVersion = 1
)

// Event types recorded by the watcher.
const (
	EventStarted      = "started"
	EventConnected    = "connected"
	EventSelected     = "selected"
	EventSwitched     = "mailbox switch"
	EventDrained      = "messages received"
	EventDisconnected = "disconnected"
	EventStopped      = "stopped"
)

// Event is one entry in the watcher lifecycle journal. Message contents are
// never stored, only what happened to the session.
type Event struct {
	Date    time.Time
	Type    string
	Mailbox string
	Detail  string
}

// BoltStore is an append-only journal of watcher lifecycle events backed by
// a bolt file.
type BoltStore struct {
	dbFile string
	db     *bolt.DB
}

func NewBoltStore(filename string) (*BoltStore, error) {
	options := bolt.DefaultOptions
	options.Timeout = 10 * time.Second

	db, err := bolt.Open(filename, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("cannot open %q: %q", filename, err)
	}

	store := &BoltStore{
		dbFile: filename,
		db:     db,
	}
	if err = store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *BoltStore) Exists() bool {
	_, err := os.Stat(s.dbFile)
	return err == nil
}

func (s *BoltStore) init() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		version, err := SerializeInt(boltFileVersion)
		if err != nil {
			return err
		}
		if err = bucket.Put([]byte(versionKey), version); err != nil {
			return err
		}
		_, err = tx.CreateBucketIfNotExists([]byte(historyBucket))
		return err
	})
}

// Append records one event at the end of the journal.
func (s *BoltStore) Append(event Event) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(historyBucket))
		if bucket == nil {
			return fmt.Errorf("bucket %q not found", historyBucket)
		}
		sequence, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		value, err := SerializeObject(&event)
		if err != nil {
			return err
		}
		return bucket.Put(sequenceKey(sequence), value)
	})
}

// Events returns the journal newest first, up to limit entries. A limit of
// zero or less means everything.
func (s *BoltStore) Events(limit int) ([]Event, error) {
	events := make([]Event, 0, 10)
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(historyBucket))
		if bucket == nil {
			return fmt.Errorf("bucket %q not found", historyBucket)
		}
		cursor := bucket.Cursor()
		for key, value := cursor.Last(); key != nil; key, value = cursor.Prev() {
			if limit > 0 && len(events) >= limit {
				break
			}
			event, err := DeserializeObject[Event](value)
			if err != nil {
				return err
			}
			events = append(events, *event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
