// FILE: internal/dto/notification_dto.go
package dto

import (
	"brokerage-client/internal/entity"

	"github.com/google/uuid"
)

type CreateNotificationRequest struct {
	UserId            uuid.UUID                   `json:"user_id" validate:"required"`
	Title             string                      `json:"title" validate:"required,max=200"`
	Message           string                      `json:"message" validate:"required"`
	Type              entity.NotificationType     `json:"type" validate:"required,notification_type"`
	Priority          entity.NotificationPriority `json:"priority,omitempty" validate:"omitempty,oneof=low medium high urgent"`
	RelatedDocumentId *uuid.UUID                  `json:"related_document_id,omitempty"`
	ActionURL         string                      `json:"action_url,omitempty"`
	Metadata          map[string]interface{}      `json:"metadata,omitempty"`
}

type QuietHoursRequest struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start" validate:"required,clock"`
	End     string `json:"end" validate:"required,clock"`
}

// UpdateNotificationSettingsRequest replaces the whole settings object.
type UpdateNotificationSettingsRequest struct {
	EmailEnabled *bool                            `json:"email_enabled" validate:"required"`
	SMSEnabled   *bool                            `json:"sms_enabled" validate:"required"`
	PushEnabled  *bool                            `json:"push_enabled" validate:"required"`
	Types        map[entity.NotificationType]bool `json:"types" validate:"required,len=8,dive,keys,notification_type,endkeys"`
	QuietHours   QuietHoursRequest                `json:"quiet_hours" validate:"required"`
}

func (r UpdateNotificationSettingsRequest) ToEntity(userId uuid.UUID) entity.NotificationSettings {
	settings := entity.DefaultNotificationSettings(userId)
	settings.EmailEnabled = *r.EmailEnabled
	settings.SMSEnabled = *r.SMSEnabled
	settings.PushEnabled = *r.PushEnabled
	settings.Types = make(map[entity.NotificationType]bool, len(r.Types))
	for t, enabled := range r.Types {
		settings.Types[t] = enabled
	}
	settings.QuietHours = entity.QuietHours{
		Enabled: r.QuietHours.Enabled,
		Start:   r.QuietHours.Start,
		End:     r.QuietHours.End,
	}
	return settings
}

type NotificationListResponse struct {
	Data        []entity.Notification `json:"data"`
	UnreadCount int                   `json:"unread_count"`
	HasMore     bool                  `json:"has_more"`
}
