package main

import (
	"context"
	"log"

	"anubis-backend/chat"
	"anubis-backend/conn"
	"anubis-backend/login"
	"anubis-backend/migrations"
	"anubis-backend/openai"
	"anubis-backend/profile"
	"anubis-backend/subscriptions"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on system environment")
	}

	db, err := conn.NewMySQL()
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	migrations.Init(db)
	if err := migrations.Migrate(); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	if err := migrations.SeedDefaultPlans(); err != nil {
		log.Fatalf("plan seed failed: %v", err)
	}
	if err := migrations.SeedDefaultUser(); err != nil {
		log.Fatalf("user seed failed: %v", err)
	}

	repo := subscriptions.NewRepository(db)
	ledger := subscriptions.NewLedger(repo)
	stripeSvc := subscriptions.NewStripeFromEnv(repo)
	if stripeSvc == nil {
		log.Println("STRIPE_SECRET_KEY not set, checkout endpoints disabled")
	}

	// New accounts start on the free tier.
	login.RegisterSignupHook(func(userID int) {
		if err := repo.EnsureSubscription(context.Background(), userID, subscriptions.TierFree); err != nil {
			log.Printf("[signup] could not create free subscription for user %d: %v", userID, err)
		}
	})

	ai := openai.NewClient()
	resolver := func(c *gin.Context) (int, bool) {
		user := login.UserFromRequest(c)
		if user == nil {
			return 0, false
		}
		return user.ID, true
	}

	r := gin.Default()
	login.RegisterRoutes(r)
	subscriptions.NewHandler(ledger, repo, repo, stripeSvc).RegisterRoutes(r)
	chat.NewHandler(ai, ledger, repo, resolver).RegisterRoutes(r)
	profile.NewHandler(repo, repo).RegisterRoutes(r)

	log.Println("starting Anubis Chat API on :8080")
	if err := r.Run(":8080"); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
