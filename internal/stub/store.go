package stub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"terrachat/pkg/logger"
	"terrachat/pkg/models"
)

// ErrStoreClosed is returned by every Store method after Close.
var ErrStoreClosed = errors.New("store closed")

// Store persists the stub's threads and messages in pebble. Key layout:
//
//	thread:<projectID>:<threadID>                      -> thread JSON
//	msg:<threadID>:<unix_nano_padded>-<seq>            -> message JSON
//
// The timestamp+seq suffix keeps messages in insertion order under prefix
// iteration, with the counter breaking nanosecond ties.
type Store struct {
	mu  sync.RWMutex
	db  *pebble.DB
	seq uint64
}

func OpenStore(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	logger.Info("pebble_opened", "path", path)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// handle returns the open database; callers must hold the read lock for
// the duration of their operation so Close cannot race them.
func (s *Store) handle() (*pebble.DB, error) {
	if s.db == nil {
		return nil, ErrStoreClosed
	}
	return s.db, nil
}

func (s *Store) SaveThread(projectID string, th models.Thread) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.handle()
	if err != nil {
		return err
	}
	b, err := json.Marshal(th)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("thread:%s:%s", projectID, th.ID)
	return db.Set([]byte(key), b, pebble.Sync)
}

func (s *Store) GetThread(projectID, threadID string) (models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.handle()
	if err != nil {
		return models.Thread{}, err
	}
	key := fmt.Sprintf("thread:%s:%s", projectID, threadID)
	v, closer, err := db.Get([]byte(key))
	if err != nil {
		return models.Thread{}, err
	}
	defer closer.Close()
	var th models.Thread
	if err := json.Unmarshal(v, &th); err != nil {
		return models.Thread{}, err
	}
	return th, nil
}

func (s *Store) ListThreads(projectID string) ([]models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	prefix := []byte("thread:" + projectID + ":")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Thread
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var th models.Thread
		if err := json.Unmarshal(iter.Value(), &th); err != nil {
			continue
		}
		out = append(out, th)
	}
	return out, iter.Error()
}

func (s *Store) DeleteThread(projectID, threadID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.handle()
	if err != nil {
		return err
	}
	key := fmt.Sprintf("thread:%s:%s", projectID, threadID)
	if err := db.Delete([]byte(key), pebble.Sync); err != nil {
		return err
	}
	// drop the thread's messages as well
	prefix := []byte("msg:" + threadID + ":")
	end := append(append([]byte(nil), prefix...), 0xff)
	return db.DeleteRange(prefix, end, pebble.Sync)
}

func (s *Store) SaveMessage(m models.Message) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.handle()
	if err != nil {
		return err
	}
	ts := time.Now().UTC().UnixNano()
	n := atomic.AddUint64(&s.seq, 1)
	key := fmt.Sprintf("msg:%s:%020d-%06d", m.ThreadID, ts, n)
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := db.Set([]byte(key), b, pebble.Sync); err != nil {
		logger.Error("save_message_failed", "thread", m.ThreadID, "error", err)
		return err
	}
	logger.Debug("message_saved", "thread", m.ThreadID, "id", m.ID)
	return nil
}

// ListMessages returns a page of a thread's messages in insertion order.
// A non-empty before id limits the page to messages older than that id;
// limit<=0 means no limit. hasMore reports whether older messages remain.
func (s *Store) ListMessages(threadID string, limit int, before string) ([]models.Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.handle()
	if err != nil {
		return nil, false, err
	}
	prefix := []byte("msg:" + threadID + ":")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, false, err
	}
	defer iter.Close()
	var all []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		all = append(all, m)
	}
	if err := iter.Error(); err != nil {
		return nil, false, err
	}
	end := len(all)
	if before != "" {
		for i, m := range all {
			if m.ID == before {
				end = i
				break
			}
		}
	}
	start := 0
	if limit > 0 && end-start > limit {
		start = end - limit
	}
	return all[start:end], start > 0, nil
}
