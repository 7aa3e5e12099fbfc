// ABOUTME: Bounded in-memory conversation store on an expirable LRU
// ABOUTME: Idle conversations expire after the TTL; eviction feeds abandonment metrics

package conversation

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultMaxActive bounds the number of retained conversations.
	DefaultMaxActive = 10000
	// DefaultIdleTTL is how long an untouched conversation is retained.
	DefaultIdleTTL = 24 * time.Hour
)

// recordStatus is the part of a record the eviction callback reads. It is
// published atomically so eviction never takes a record lock.
type recordStatus struct {
	stage     Stage
	closed    bool
	completed bool
}

// record is one tracked conversation.
type record struct {
	// turn serializes message processing for this conversation.
	turn sync.Mutex

	mu             sync.RWMutex
	conv           Conversation
	stageEnteredAt map[Stage]time.Time
	saleClosed     bool
	completed      bool

	status atomic.Pointer[recordStatus]
}

func newRecord(id, leadID string, now time.Time) *record {
	r := &record{
		conv: Conversation{
			ID:       id,
			LeadID:   leadID,
			Messages: []Message{},
			Stage:    StageIntake,
			Metadata: map[string]any{
				"started_at": now,
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		stageEnteredAt: map[Stage]time.Time{StageIntake: now},
	}
	r.publishStatus()
	return r
}

// touch advances UpdatedAt, keeping it strictly increasing. Caller holds mu.
func (r *record) touch(now time.Time) {
	if !now.After(r.conv.UpdatedAt) {
		now = r.conv.UpdatedAt.Add(time.Nanosecond)
	}
	r.conv.UpdatedAt = now
}

// publishStatus stores the eviction view. Caller holds mu or owns r.
func (r *record) publishStatus() {
	r.status.Store(&recordStatus{
		stage:     r.conv.Stage,
		closed:    r.saleClosed,
		completed: r.completed,
	})
}

func (r *record) snapshot() *Conversation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c := r.conv
	c.Messages = slices.Clone(r.conv.Messages)
	c.Metadata = maps.Clone(r.conv.Metadata)
	return &c
}

func (r *record) history() []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.conv.Messages)
}

// conversationStore retains conversations with LRU eviction and an idle TTL.
type conversationStore struct {
	lru     *expirable.LRU[string, *record]
	closing atomic.Bool
	logger  *slog.Logger
}

func newConversationStore(maxActive int, idleTTL time.Duration, metrics *accumulator, logger *slog.Logger) *conversationStore {
	if maxActive <= 0 {
		maxActive = DefaultMaxActive
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	s := &conversationStore{logger: logger}
	s.lru = expirable.NewLRU[string, *record](maxActive, func(id string, r *record) {
		if s.closing.Load() {
			return
		}
		st := r.status.Load()
		abandoned := !st.completed && !st.closed
		metrics.conversationEvicted(st.stage, abandoned)
		s.logger.Info("conversation evicted",
			"conversation_id", id,
			"stage", st.stage,
			"abandoned", abandoned)
	}, idleTTL)
	return s
}

func (s *conversationStore) get(id string) (*record, bool) {
	return s.lru.Get(id)
}

// put inserts or refreshes a record, restarting its idle TTL.
func (s *conversationStore) put(r *record) {
	s.lru.Add(r.conv.ID, r)
}

func (s *conversationStore) size() int {
	return s.lru.Len()
}

func (s *conversationStore) close() {
	s.closing.Store(true)
	s.lru.Purge()
}
