// FILE: internal/entity/notification_entity.go
package entity

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type NotificationType string
type NotificationPriority string
type NotificationChannel string

const (
	NotificationTypePropertyUpdate      NotificationType = "property_update"
	NotificationTypeDocumentSigned      NotificationType = "document_signed"
	NotificationTypeCustomerMessage     NotificationType = "customer_message"
	NotificationTypeAppointmentReminder NotificationType = "appointment_reminder"
	NotificationTypePaymentDue          NotificationType = "payment_due"
	NotificationTypeSubscriptionUpdate  NotificationType = "subscription_update"
	NotificationTypeSystemAlert         NotificationType = "system_alert"
	NotificationTypeTaskAssigned        NotificationType = "task_assigned"

	PriorityLow    NotificationPriority = "low"
	PriorityMedium NotificationPriority = "medium"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"

	ChannelEmail NotificationChannel = "email"
	ChannelSMS   NotificationChannel = "sms"
	ChannelPush  NotificationChannel = "push"
)

// NotificationTypes is the closed set of categories, in display order.
var NotificationTypes = []NotificationType{
	NotificationTypePropertyUpdate,
	NotificationTypeDocumentSigned,
	NotificationTypeCustomerMessage,
	NotificationTypeAppointmentReminder,
	NotificationTypePaymentDue,
	NotificationTypeSubscriptionUpdate,
	NotificationTypeSystemAlert,
	NotificationTypeTaskAssigned,
}

func (t NotificationType) Valid() bool {
	for _, known := range NotificationTypes {
		if t == known {
			return true
		}
	}
	return false
}

func (p NotificationPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type Notification struct {
	Id                uuid.UUID            `json:"id" gorm:"type:uuid;primaryKey"`
	UserId            uuid.UUID            `json:"user_id" gorm:"type:uuid;not null;index"`
	Title             string               `json:"title"`
	Message           string               `json:"message"`
	Type              NotificationType     `json:"type"`
	Priority          NotificationPriority `json:"priority"`
	IsRead            bool                 `json:"is_read"`
	CreatedAt         time.Time            `json:"created_at"`
	RelatedDocumentId *uuid.UUID           `json:"related_document_id,omitempty" gorm:"type:uuid"`
	ActionURL         string               `json:"action_url,omitempty"`
	Metadata          datatypes.JSONMap    `json:"metadata,omitempty" gorm:"type:jsonb"`
}

func (Notification) TableName() string {
	return "notifications"
}

// Clone copies the metadata map and the related-document pointer.
func (n Notification) Clone() Notification {
	out := n
	if n.RelatedDocumentId != nil {
		id := *n.RelatedDocumentId
		out.RelatedDocumentId = &id
	}
	if n.Metadata != nil {
		out.Metadata = make(datatypes.JSONMap, len(n.Metadata))
		for k, v := range n.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"` // "HH:MM"
	End     string `json:"end"`
}

type NotificationSettings struct {
	UserId       uuid.UUID                 `json:"user_id" gorm:"type:uuid;primaryKey"`
	EmailEnabled bool                      `json:"email_enabled"`
	SMSEnabled   bool                      `json:"sms_enabled"`
	PushEnabled  bool                      `json:"push_enabled"`
	Types        map[NotificationType]bool `json:"types" gorm:"serializer:json;type:jsonb"`
	QuietHours   QuietHours                `json:"quiet_hours" gorm:"serializer:json;type:jsonb"`
	UpdatedAt    time.Time                 `json:"updated_at"`
}

func (NotificationSettings) TableName() string {
	return "notification_settings"
}

// DefaultNotificationSettings is used when the user never saved preferences.
func DefaultNotificationSettings(userId uuid.UUID) NotificationSettings {
	types := make(map[NotificationType]bool, len(NotificationTypes))
	for _, t := range NotificationTypes {
		types[t] = true
	}
	return NotificationSettings{
		UserId:       userId,
		EmailEnabled: true,
		SMSEnabled:   true,
		PushEnabled:  true,
		Types:        types,
		QuietHours:   QuietHours{Enabled: false, Start: "22:00", End: "07:00"},
	}
}

// Allows reports whether a notification of the given type may go out on channel.
// Types missing from the map count as enabled.
func (s NotificationSettings) Allows(t NotificationType, channel NotificationChannel) bool {
	if enabled, ok := s.Types[t]; ok && !enabled {
		return false
	}
	switch channel {
	case ChannelEmail:
		return s.EmailEnabled
	case ChannelSMS:
		return s.SMSEnabled
	case ChannelPush:
		return s.PushEnabled
	}
	return false
}

// InQuietHours reports whether t falls in the quiet window. Windows may wrap midnight.
func (s NotificationSettings) InQuietHours(t time.Time) bool {
	if !s.QuietHours.Enabled {
		return false
	}
	start, err := parseClock(s.QuietHours.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(s.QuietHours.End)
	if err != nil {
		return false
	}
	now := t.Hour()*60 + t.Minute()
	if start == end {
		return false
	}
	if start < end {
		return now >= start && now < end
	}
	return now >= start || now < end
}

// Clone returns a copy that does not share the types map.
func (s NotificationSettings) Clone() NotificationSettings {
	out := s
	out.Types = make(map[NotificationType]bool, len(s.Types))
	for k, v := range s.Types {
		out.Types[k] = v
	}
	return out
}

func parseClock(v string) (int, error) {
	parts := strings.Split(v, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day %q", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", v)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", v)
	}
	return h*60 + m, nil
}

// ValidClock reports whether v is an "HH:MM" time of day.
func ValidClock(v string) bool {
	_, err := parseClock(v)
	return err == nil
}
