package main

import (
	"log"
	"os"

	"brokerage-client/internal/entity"
	"brokerage-client/pkg/database"

	"github.com/joho/godotenv"
)

// Creates the notification tables on a self-hosted backend database so the
// gateway can run with BACKEND_DB_DSN instead of the REST surface.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Info: No .env file found, using system env")
	}

	dsn := os.Getenv("BACKEND_DB_DSN")
	if dsn == "" {
		log.Fatal("Error: BACKEND_DB_DSN is not set")
	}

	db, err := database.NewGormDBFromDSN(dsn, true)
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	log.Println("Step 1: Setting up extensions...")
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS pgcrypto;`).Error; err != nil {
		log.Printf("Warn: Failed to create pgcrypto: %v. Continuing...", err)
	}

	log.Println("Step 2: Running AutoMigrate...")
	if err := db.AutoMigrate(&entity.Notification{}, &entity.NotificationSettings{}); err != nil {
		log.Fatalf("Error: AutoMigrate failed: %v", err)
	}

	log.Println("Step 3: Creating indexes...")
	postMigrationSQL := []string{
		`ALTER TABLE notifications ALTER COLUMN id SET DEFAULT gen_random_uuid();`,
		`ALTER TABLE notifications ALTER COLUMN created_at SET DEFAULT now();`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user_created ON notifications (user_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user_unread ON notifications (user_id) WHERE is_read = false;`,
	}
	for _, sql := range postMigrationSQL {
		if err := db.Exec(sql).Error; err != nil {
			log.Printf("Warn: Failed to execute post-migration SQL: %v", err)
		}
	}

	log.Println("Success: notification tables are ready.")
}
