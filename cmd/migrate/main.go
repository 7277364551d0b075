package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"relaydesk/config"
	"relaydesk/internal/repository"
	"relaydesk/internal/services"
	"relaydesk/pkg/database"
	"relaydesk/pkg/logger"
)

const usage = `
Relaydesk - Database CLI Tool

Usage:
  migrate [command] [flags]

Commands:
  up          Apply all *.up.sql migrations
  down        Roll back all migrations (*.down.sql, newest first)
  status      Show database connection status and table row counts
  seed-dev    Seed sample conversations and messages
  token       Print a signed access token (development only)

Flags:
  -migrations string   Path to migrations directory (default "migrations")
  -user string         Subject id for token / assignee for seed-dev
  -role string         Role for token: master_admin, admin, client_user (default "admin")
  -email string        Email claim for token

Examples:
  go run cmd/migrate/main.go up
  go run cmd/migrate/main.go seed-dev -user agent-1
  go run cmd/migrate/main.go token -user agent-1 -role client_user
`

func main() {
	migrationsDir := flag.String("migrations", "migrations", "Path to migrations directory")
	userID := flag.String("user", "", "Subject id")
	role := flag.String("role", string(services.RoleAdmin), "Role for issued token")
	email := flag.String("email", "", "Email claim")

	flag.Usage = func() {
		fmt.Print(usage)
	}
	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}
	command := os.Args[1]
	if err := flag.CommandLine.Parse(os.Args[2:]); err != nil {
		os.Exit(1)
	}

	cfg := config.LoadConfig()
	l := logger.New(cfg.AppMode)
	defer l.Sync()

	if command == "token" {
		issueToken(cfg, *userID, services.Role(*role), *email)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := database.Connect(ctx, cfg, l)
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	defer db.Close()

	switch command {
	case "up":
		if err := database.ApplyMigrations(ctx, db, *migrationsDir, false, l); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations completed successfully")
	case "down":
		if err := database.ApplyMigrations(ctx, db, *migrationsDir, true, l); err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		log.Println("Rollback completed successfully")
	case "status":
		showStatus(ctx, db)
	case "seed-dev":
		seed := database.DefaultSeedConfig()
		seed.AssignTo = *userID
		res, err := database.SeedDevelopment(ctx,
			repository.NewConversationRepository(db),
			repository.NewMessageRepository(db),
			seed, l)
		if err != nil {
			log.Fatalf("Seeding failed: %v", err)
		}
		log.Printf("Seeded %d conversations, %d messages", len(res.Conversations), len(res.Messages))
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

func showStatus(ctx context.Context, db *sql.DB) {
	if err := database.HealthCheck(ctx, db); err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	log.Println("Database connection: OK")

	for _, table := range []string{"conversations", "messages", "outbox_events"} {
		count, err := database.TableCount(ctx, db, table)
		if err != nil {
			log.Printf("Table %-16s unavailable: %v", table, err)
			continue
		}
		log.Printf("Table %-16s %d rows", table, count)
	}
}

func issueToken(cfg *config.Config, userID string, role services.Role, email string) {
	token, expiresIn, err := services.NewAuthService(cfg).IssueAccessToken(services.Subject{
		UserID: userID,
		Email:  email,
		Role:   role,
	})
	if err != nil {
		log.Fatalf("Token issuance failed: %v", err)
	}
	fmt.Println(token)
	log.Printf("expires in %ds", expiresIn)
}
