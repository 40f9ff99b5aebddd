package notification

import (
	"context"
	"encoding/json"

	"brokerage-client/internal/backend"
	"brokerage-client/internal/entity"
)

// onChange merges one live row change. Changes from an ended session are dropped.
func (s *Store) onChange(gen uint64, c backend.Change) {
	s.mu.Lock()
	if s.gen != gen || !s.started {
		s.mu.Unlock()
		return
	}
	if s.loading {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		return
	}
	action, id, ok := s.applyLocked(c)
	userId := s.userId
	unread := s.unreadLocked()
	s.mu.Unlock()

	if !ok {
		return
	}
	s.publish(context.Background(), userId, map[string]interface{}{
		"action":          action,
		"notification_id": id,
		"unread_count":    unread,
	})
}

// applyLocked inserts are prepended; an insert for a known id replaces it in
// place. Updates replace in place, or are placed by created_at when the row is
// not held locally yet.
func (s *Store) applyLocked(c backend.Change) (string, string, bool) {
	var n entity.Notification
	if err := json.Unmarshal(c.Record, &n); err != nil {
		s.logger.Warn(module, "Dropping undecodable change", map[string]interface{}{"type": c.Type, "error": err})
		return "", "", false
	}
	if n.UserId != s.userId {
		return "", "", false
	}

	idx := s.indexOf(n.Id)
	switch c.Type {
	case backend.ChangeInsert:
		if idx >= 0 {
			s.items[idx] = n
			return "updated", n.Id.String(), true
		}
		s.items = append([]entity.Notification{n}, s.items...)
		return "inserted", n.Id.String(), true

	case backend.ChangeUpdate:
		if idx >= 0 {
			s.items[idx] = n
			return "updated", n.Id.String(), true
		}
		s.insertByCreatedLocked(n)
		return "upserted", n.Id.String(), true
	}
	return "", "", false
}

func (s *Store) insertByCreatedLocked(n entity.Notification) {
	pos := len(s.items)
	for i, item := range s.items {
		if item.CreatedAt.Before(n.CreatedAt) {
			pos = i
			break
		}
	}
	s.items = append(s.items, entity.Notification{})
	copy(s.items[pos+1:], s.items[pos:])
	s.items[pos] = n
}
