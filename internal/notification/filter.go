package notification

import "brokerage-client/internal/entity"

// Filter narrows a read-only view of the list. Zero values match everything.
type Filter struct {
	UnreadOnly bool
	Type       entity.NotificationType
	Priority   entity.NotificationPriority
}

func (f Filter) Match(n entity.Notification) bool {
	if f.UnreadOnly && n.IsRead {
		return false
	}
	if f.Type != "" && n.Type != f.Type {
		return false
	}
	if f.Priority != "" && n.Priority != f.Priority {
		return false
	}
	return true
}

// Filtered returns matching notifications in list order.
func (s *Store) Filtered(f Filter) []entity.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []entity.Notification
	for _, n := range s.items {
		if f.Match(n) {
			out = append(out, n.Clone())
		}
	}
	return out
}
