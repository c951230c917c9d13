package handlers

import (
	"sync"

	"github.com/pim-systems/pimd/notify"
	"github.com/pim-systems/pimd/protocol"
	"github.com/pim-systems/pimd/session"
	"github.com/pim-systems/pimd/store"
)

// DefaultSearchTaskManager correlates in-flight searches to their eventual
// result UID sets, keyed by correlation id. Waiters receive from the channel
// Register returned, which yields once a SearchResult handler calls Resolve
// (spec §4.7 search-result).
type DefaultSearchTaskManager struct {
	mu      sync.Mutex
	waiters map[string]chan []int64
}

func NewSearchTaskManager() *DefaultSearchTaskManager {
	return &DefaultSearchTaskManager{waiters: map[string]chan []int64{}}
}

// Register opens a channel for a new search's correlation id. The entry
// stays registered until Resolve is called for that id; Resolve sends
// exactly once into the channel's one-slot buffer and closes it, so it never
// blocks on a reader.
func (m *DefaultSearchTaskManager) Register(correlationID string) <-chan []int64 {
	ch := make(chan []int64, 1)
	m.mu.Lock()
	m.waiters[correlationID] = ch
	m.mu.Unlock()
	return ch
}

// Resolve delivers a result set (possibly empty, on failure) to the
// waiter registered under correlationID, if any.
func (m *DefaultSearchTaskManager) Resolve(correlationID string, uids []int64) {
	m.mu.Lock()
	ch, ok := m.waiters[correlationID]
	if ok {
		delete(m.waiters, correlationID)
	}
	m.mu.Unlock()
	if ok {
		ch <- uids
		close(ch)
	}
}

// SearchResult converts agent-reported result identifiers into UIDs via
// remote-id lookup, then pushes the id set to the in-flight search task
// manager keyed by correlation id. On failure it pushes an empty set so
// waiters terminate (spec §4.7).
func (d *Deps) SearchResult(_ *session.Context, tx store.Tx, _ *notify.Collector, msg protocol.Message, _ func(protocol.Message) error) error {
	req := msg.(*protocol.SearchResult)

	if !req.Success {
		d.Search.Resolve(req.CorrelationID, nil)
		return nil
	}

	uids := make([]int64, 0, len(req.RemoteIDs))
	for _, rid := range req.RemoteIDs {
		it, ok, err := tx.ItemByRemoteID(req.Resource, rid)
		if err != nil {
			return err
		}
		if ok {
			uids = append(uids, it.ID)
		}
	}
	d.Search.Resolve(req.CorrelationID, uids)
	return nil
}
