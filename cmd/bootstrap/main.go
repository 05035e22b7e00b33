package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"registra.org/internal/auth"
)

// bootstrap provisions the initial super admin account so the system can be
// administered before any staff accounts exist.
func main() {
	log.SetFlags(0)
	var (
		dsn       = flag.String("dsn", os.Getenv("REGISTRA_PG_DSN"), "PostgreSQL DSN")
		email     = flag.String("email", os.Getenv("REGISTRA_ADMIN_EMAIL"), "Super admin email")
		password  = flag.String("password", os.Getenv("REGISTRA_ADMIN_PASSWORD"), "Super admin password")
		firstName = flag.String("first-name", "Super", "First name")
		lastName  = flag.String("last-name", "Admin", "Last name")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or REGISTRA_PG_DSN")
	}
	if *email == "" || *password == "" {
		log.Fatal("email and password are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	// The service needs a token secret to construct; bootstrap never issues
	// tokens, so a placeholder is fine.
	svc, err := auth.NewService(auth.NewPGStore(db), []byte("bootstrap"))
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	profile, err := svc.CreateAccount(ctx, auth.NewAccount{
		FirstName: *firstName,
		LastName:  *lastName,
		Email:     *email,
		Password:  *password,
		Role:      auth.RoleSuperAdmin,
	})
	if err != nil {
		if errors.Is(err, auth.ErrConflict) {
			log.Println("super admin already exists")
			return
		}
		log.Fatalf("create super admin: %v", err)
	}

	log.Printf("super admin created: %s (%s)", profile.Email, profile.ID)
}
