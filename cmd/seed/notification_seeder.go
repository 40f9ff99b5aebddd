package main

import (
	"log"
	"time"

	"brokerage-client/internal/entity"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// demoNotifications covers every notification type at least once, spread over
// the last few days so paging and ordering are visible in the UI.
func demoNotifications(userId uuid.UUID, now time.Time) []entity.Notification {
	at := func(hoursAgo int) time.Time { return now.Add(-time.Duration(hoursAgo) * time.Hour) }
	docId := uuid.New()
	return []entity.Notification{
		{Title: "Offer accepted", Message: "The seller accepted the offer on 12 Harbour View.", Type: entity.NotificationTypePropertyUpdate, Priority: entity.PriorityHigh, CreatedAt: at(1), ActionURL: "/properties/12-harbour-view"},
		{Title: "Purchase agreement signed", Message: "All parties signed the purchase agreement.", Type: entity.NotificationTypeDocumentSigned, Priority: entity.PriorityHigh, CreatedAt: at(3), RelatedDocumentId: &docId},
		{Title: "New message from a buyer", Message: "\"Is the garden south facing?\"", Type: entity.NotificationTypeCustomerMessage, Priority: entity.PriorityMedium, CreatedAt: at(5)},
		{Title: "Viewing tomorrow at 10:00", Message: "Viewing at 4 Elm Street with the Jansen family.", Type: entity.NotificationTypeAppointmentReminder, Priority: entity.PriorityMedium, CreatedAt: at(8)},
		{Title: "Invoice due in 3 days", Message: "Your monthly invoice will be charged on the 1st.", Type: entity.NotificationTypePaymentDue, Priority: entity.PriorityUrgent, CreatedAt: at(20)},
		{Title: "Plan upgraded", Message: "Your team is now on the Professional plan.", Type: entity.NotificationTypeSubscriptionUpdate, Priority: entity.PriorityLow, CreatedAt: at(30), IsRead: true},
		{Title: "Scheduled maintenance", Message: "Short maintenance window on Sunday 02:00-03:00.", Type: entity.NotificationTypeSystemAlert, Priority: entity.PriorityLow, CreatedAt: at(48), IsRead: true},
		{Title: "Task assigned", Message: "Prepare the listing photos for 7 Canal Road.", Type: entity.NotificationTypeTaskAssigned, Priority: entity.PriorityMedium, CreatedAt: at(72), Metadata: datatypes.JSONMap{"assigned_by": "office manager"}},
	}
}

func SeedNotifications(db *gorm.DB, userId uuid.UUID) (int, error) {
	rows := demoNotifications(userId, time.Now().UTC())
	for i := range rows {
		rows[i].Id = uuid.New()
		rows[i].UserId = userId
	}
	if err := db.Create(&rows).Error; err != nil {
		return 0, err
	}
	for _, n := range rows {
		log.Printf("Created notification: %s (%s)", n.Title, n.Type)
	}
	return len(rows), nil
}

// SeedSettings writes default preferences unless the user already has some.
func SeedSettings(db *gorm.DB, userId uuid.UUID) error {
	settings := entity.DefaultNotificationSettings(userId)
	settings.UpdatedAt = time.Now().UTC()
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&settings)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		log.Printf("Settings for %s already exist, skipping...", userId)
	}
	return nil
}

func ResetNotifications(db *gorm.DB, userId uuid.UUID) error {
	result := db.Where("user_id = ?", userId).Delete(&entity.Notification{})
	if result.Error != nil {
		return result.Error
	}
	log.Printf("Deleted %d notifications", result.RowsAffected)
	return nil
}
