// Command devseed creates a local account with a role and, optionally, a
// sample offer addressed to it.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/appgarcom/prestador/internal/auth"
	"github.com/appgarcom/prestador/internal/models"
	"github.com/appgarcom/prestador/internal/storage"
	"github.com/appgarcom/prestador/internal/storage/postgres"
)

func main() {
	_ = godotenv.Load()
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	email := strings.TrimSpace(os.Getenv("SEED_EMAIL"))
	pass := os.Getenv("SEED_PASSWORD")
	if dbURL == "" || email == "" || pass == "" {
		log.Error("DATABASE_URL, SEED_EMAIL and SEED_PASSWORD are required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := postgres.NewStore(ctx, dbURL, 0)
	if err != nil {
		log.Error("connect", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	cred, err := seedUser(ctx, store, email, pass, os.Getenv("SEED_NAME"))
	if err != nil {
		log.Error("seed user", "error", err)
		os.Exit(1)
	}
	role := fallback(os.Getenv("SEED_ROLE"), models.ProviderRoleName)
	if err := store.SetRole(ctx, cred.User.ID, role); err != nil {
		log.Error("seed role", "error", err)
		os.Exit(1)
	}
	log.Info("user ready", "user_id", cred.User.ID, "email", cred.User.Email, "role", role)

	if os.Getenv("SEED_SAMPLE_OFFER") != "true" {
		return
	}
	offer, err := store.InsertOffer(ctx, sampleOffer(cred.User.ID))
	if err != nil {
		log.Error("seed offer", "error", err)
		os.Exit(1)
	}
	log.Info("sample offer created", "offer_id", offer.ID)
}

func seedUser(ctx context.Context, store *postgres.Store, email, pass, name string) (models.Credential, error) {
	existing, err := store.FindCredential(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return models.Credential{}, err
	}
	hash, err := auth.HashPassword(pass)
	if err != nil {
		return models.Credential{}, err
	}
	return store.CreateCredential(ctx, models.Credential{
		User:         models.User{Email: email, DisplayName: strings.TrimSpace(name)},
		PasswordHash: hash,
	})
}

func sampleOffer(professionalID string) models.Offer {
	return models.Offer{
		ProfessionalID: professionalID,
		ServiceDate:    time.Now().AddDate(0, 0, 7).Truncate(24 * time.Hour),
		StartTime:      "19:00",
		EndTime:        "23:30",
		Alignment: models.Alignment{Contractor: models.ContractorDetails{
			DressCode:     "Camisa social preta",
			OnSiteContact: "Recepção - Carla",
			Notes:         "Chegar 30 minutos antes.",
		}},
	}
}

func fallback(value, def string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return def
}
