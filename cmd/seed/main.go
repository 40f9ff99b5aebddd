package main

import (
	"flag"
	"log"
	"os"

	"brokerage-client/pkg/database"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Info: No .env file found, using system env")
	}

	userFlag := flag.String("user", "", "user id to seed (required)")
	reset := flag.Bool("reset", false, "delete the user's notifications first")
	flag.Parse()

	userId, err := uuid.Parse(*userFlag)
	if err != nil {
		log.Fatalf("Error: -user must be a uuid: %v", err)
	}

	dsn := os.Getenv("BACKEND_DB_DSN")
	if dsn == "" {
		log.Fatal("Error: BACKEND_DB_DSN is not set")
	}

	db, err := database.NewGormDBFromDSN(dsn, false)
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	if *reset {
		if err := ResetNotifications(db, userId); err != nil {
			log.Fatalf("Error resetting notifications: %v", err)
		}
	}

	log.Println("Seeding notification settings...")
	if err := SeedSettings(db, userId); err != nil {
		log.Fatalf("Error seeding settings: %v", err)
	}

	log.Println("Seeding notifications...")
	created, err := SeedNotifications(db, userId)
	if err != nil {
		log.Fatalf("Error seeding notifications: %v", err)
	}
	log.Printf("Notification seeding completed! (%d created)", created)
}
