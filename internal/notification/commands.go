package notification

import (
	"context"
	"errors"
	"net/http"
	"time"

	"brokerage-client/internal/apperr"
	"brokerage-client/internal/backend"
	"brokerage-client/internal/dto"
	"brokerage-client/internal/entity"

	"github.com/google/uuid"
)

// Every local mutation below is optimistic: the list changes first and is
// rolled back if the backend rejects the write.

func (s *Store) MarkAsRead(ctx context.Context, id uuid.UUID) error {
	op := "mark notification read"
	userId, err := s.requireStarted(op)
	if err != nil {
		return err
	}

	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return notFound(op, id)
	}
	if s.items[idx].IsRead {
		s.mu.Unlock()
		return nil
	}
	s.items[idx].IsRead = true
	gen := s.gen
	unread := s.unreadLocked()
	s.mu.Unlock()
	s.publish(ctx, userId, map[string]interface{}{"action": "read", "notification_id": id.String(), "unread_count": unread})

	err = s.tables.Update(ctx, backend.TableNotifications,
		[]backend.Filter{backend.Eq("id", id), backend.Eq("user_id", userId)},
		map[string]interface{}{"is_read": true})
	if err != nil {
		s.rollback(ctx, gen, op, userId, err, func() {
			if i := s.indexOf(id); i >= 0 {
				s.items[i].IsRead = false
			}
		})
		return err
	}
	return nil
}

func (s *Store) MarkAllAsRead(ctx context.Context) error {
	op := "mark all notifications read"
	userId, err := s.requireStarted(op)
	if err != nil {
		return err
	}

	s.mu.Lock()
	var flipped []uuid.UUID
	for i := range s.items {
		if !s.items[i].IsRead {
			s.items[i].IsRead = true
			flipped = append(flipped, s.items[i].Id)
		}
	}
	gen := s.gen
	s.mu.Unlock()
	if len(flipped) == 0 {
		return nil
	}
	s.publish(ctx, userId, map[string]interface{}{"action": "read_all", "unread_count": 0})

	err = s.tables.Update(ctx, backend.TableNotifications,
		[]backend.Filter{backend.Eq("user_id", userId), backend.Eq("is_read", false)},
		map[string]interface{}{"is_read": true})
	if err != nil {
		s.rollback(ctx, gen, op, userId, err, func() {
			for _, id := range flipped {
				if i := s.indexOf(id); i >= 0 {
					s.items[i].IsRead = false
				}
			}
		})
		return err
	}
	return nil
}

// DeleteNotification removes exactly one entry. An unknown id is a no-op.
func (s *Store) DeleteNotification(ctx context.Context, id uuid.UUID) error {
	op := "delete notification"
	userId, err := s.requireStarted(op)
	if err != nil {
		return err
	}

	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}
	removed := s.items[idx]
	s.items = append(s.items[:idx:idx], s.items[idx+1:]...)
	gen := s.gen
	unread := s.unreadLocked()
	s.mu.Unlock()
	s.publish(ctx, userId, map[string]interface{}{"action": "deleted", "notification_id": id.String(), "unread_count": unread})

	err = s.tables.Delete(ctx, backend.TableNotifications,
		[]backend.Filter{backend.Eq("id", id), backend.Eq("user_id", userId)})
	if err != nil {
		s.rollback(ctx, gen, op, userId, err, func() {
			if s.indexOf(id) >= 0 {
				return
			}
			pos := idx
			if pos > len(s.items) {
				pos = len(s.items)
			}
			s.items = append(s.items, entity.Notification{})
			copy(s.items[pos+1:], s.items[pos:])
			s.items[pos] = removed
		})
		return err
	}
	return nil
}

func (s *Store) rollback(ctx context.Context, gen uint64, op string, userId uuid.UUID, cause error, undo func()) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	undo()
	unread := s.unreadLocked()
	s.mu.Unlock()

	s.logger.Error(module, "Rolled back local change", map[string]interface{}{
		"op":      op,
		"user_id": userId,
		"kind":    apperr.KindOf(cause).String(),
		"error":   cause,
	})
	s.publish(ctx, userId, map[string]interface{}{"action": "rollback", "unread_count": unread})
}

// AddNotification creates a notification server-side. It is not inserted
// locally; the insert feed delivers it with its server-assigned order.
func (s *Store) AddNotification(ctx context.Context, req dto.CreateNotificationRequest) error {
	op := "add notification"
	if req.Priority == "" {
		req.Priority = entity.PriorityMedium
	}
	if err := dto.Validate(op, req); err != nil {
		return err
	}

	var err error
	if s.opts.CreateFunction != "" && s.functions != nil {
		err = s.functions.Invoke(ctx, s.opts.CreateFunction, http.MethodPost, req, nil)
	} else {
		row := entity.Notification{
			Id:                uuid.New(),
			UserId:            req.UserId,
			Title:             req.Title,
			Message:           req.Message,
			Type:              req.Type,
			Priority:          req.Priority,
			CreatedAt:         time.Now().UTC(),
			RelatedDocumentId: req.RelatedDocumentId,
			ActionURL:         req.ActionURL,
			Metadata:          req.Metadata,
		}
		err = s.tables.Insert(ctx, backend.TableNotifications, &row, nil)
	}
	if err != nil {
		s.logger.Error(module, "Failed to create notification", map[string]interface{}{"user_id": req.UserId, "type": req.Type, "error": err})
		return &apperr.Error{Kind: apperr.KindCreate, Op: op, Message: apperr.Message(err), Status: statusOf(err), Err: err}
	}
	return nil
}

// UpdateSettings saves the full settings object and replaces the local copy.
func (s *Store) UpdateSettings(ctx context.Context, req dto.UpdateNotificationSettingsRequest) (entity.NotificationSettings, error) {
	op := "update notification settings"
	userId, err := s.requireStarted(op)
	if err != nil {
		return entity.NotificationSettings{}, err
	}
	if err := dto.Validate(op, req); err != nil {
		return entity.NotificationSettings{}, err
	}

	settings := req.ToEntity(userId)
	settings.UpdatedAt = time.Now().UTC()

	var saved entity.NotificationSettings
	if err := s.tables.Upsert(ctx, backend.TableNotificationSettings, &settings, &saved); err != nil {
		s.logger.Error(module, "Failed to save notification settings", map[string]interface{}{"user_id": userId, "error": err})
		return entity.NotificationSettings{}, err
	}
	if saved.UserId == uuid.Nil {
		saved = settings
	}

	s.mu.Lock()
	if s.userId == userId {
		stored := saved.Clone()
		s.settings = &stored
	}
	s.mu.Unlock()

	s.publish(ctx, userId, map[string]interface{}{"action": "settings_updated"})
	return saved.Clone(), nil
}

func statusOf(err error) int {
	var e *apperr.Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
