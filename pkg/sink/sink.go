// Package sink implements the engine's optional persistence hook on top of
// BoltDB: every committed transaction's sealed log is appended, in one
// bbolt write transaction, to a single append-only bucket keyed by
// (commit_ts, seq). Recovery walks that bucket in key order and replays
// each record's create/update/remove against a freshly opened engine.
package sink

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/corestore/pkg/engine"
	"github.com/cuemby/corestore/pkg/ids"
	"github.com/cuemby/corestore/pkg/record"
	"github.com/cuemby/corestore/pkg/txnlog"
)

var bucketLog = []byte("log")

// Store is a bbolt-backed engine.Sink.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the sink's database file at path and ensures its
// log bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open sink database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLog)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create log bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// entry is the on-disk JSON shape of one sealed log record.
type entry struct {
	Locator ids.Locator   `json:"locator"`
	Op      txnlog.Op     `json:"op"`
	Object  record.Record `json:"object"`
}

// key orders entries first by commit timestamp, then by position within
// that commit's sealed log, so a forward bbolt cursor walk yields records
// in exactly the order their transactions committed.
func key(commitTS ids.TxnID, seq int) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], uint64(commitTS))
	binary.BigEndian.PutUint64(buf[8:16], uint64(seq))
	return buf
}

// Accept implements engine.Sink. All records from one commit are written
// under a single bbolt transaction, so a crash mid-write never leaves a
// partially-persisted commit for Replay to find.
func (s *Store) Accept(commitTS ids.TxnID, records []engine.SinkRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLog)
		for seq, r := range records {
			data, err := json.Marshal(entry{Locator: r.Locator, Op: r.Op, Object: r.Object})
			if err != nil {
				return fmt.Errorf("marshal sealed record: %w", err)
			}
			if err := b.Put(key(commitTS, seq), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Replay re-applies every persisted record, in commit order, onto db by
// re-issuing the corresponding create/update/remove (spec: "replay
// creates/updates/removes in commit order; relationships reconstruct
// deterministically from references"). db's catalog — tables,
// relationships, and indexes — must already exist by the time Replay runs:
// only object-level writes are persisted here, not DDL.
func (s *Store) Replay(db *engine.Database) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLog).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshal sealed record: %w", err)
			}
			if err := db.Restore(e.Object, e.Op); err != nil {
				return fmt.Errorf("replay record: %w", err)
			}
		}
		return nil
	})
}

// Len reports how many sealed records the sink currently holds, for the
// admin CLI's `replay` command.
func (s *Store) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketLog).Stats().KeyN
		return nil
	})
	return n, err
}
