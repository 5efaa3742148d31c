package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/joho/godotenv"

	"github.com/appgarcom/prestador/internal/models"
	"github.com/appgarcom/prestador/internal/storage"
)

// TestOfferLifecycleIntegration runs the offer store against a live database.
func TestOfferLifecycleIntegration(t *testing.T) {
	if os.Getenv("RUN_OFFER_INTEGRATION") != "true" {
		t.Skip("set RUN_OFFER_INTEGRATION=true to run this integration test")
	}

	loadDotEnv()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := NewStore(ctx, mustGetEnv(t, "DATABASE_URL"), time.Minute)
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	defer store.Close()

	email := fmt.Sprintf("prestador_%d@example.com", time.Now().UnixNano())
	cred, err := store.CreateCredential(ctx, models.Credential{
		User:         models.User{Email: email, DisplayName: "Teste Integração"},
		PasswordHash: "not-a-real-hash",
	})
	if err != nil {
		t.Fatalf("create credential: %v", err)
	}
	if _, err := store.CreateCredential(ctx, models.Credential{User: models.User{Email: strings.ToUpper(email)}}); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("duplicate email err = %v", err)
	}
	if _, err := store.GetRole(ctx, cred.User.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("role before seeding err = %v", err)
	}
	if err := store.SetRole(ctx, cred.User.ID, models.ProviderRoleName); err != nil {
		t.Fatalf("set role: %v", err)
	}
	if role, err := store.GetRole(ctx, cred.User.ID); err != nil || role != models.ProviderRoleName {
		t.Fatalf("GetRole = %q, %v", role, err)
	}

	sub, err := store.SubscribeInserts(ctx, cred.User.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	offer, err := store.InsertOffer(ctx, models.Offer{
		ProfessionalID: cred.User.ID,
		ServiceDate:    time.Now().AddDate(0, 0, 2).Truncate(24 * time.Hour),
		StartTime:      "18:00",
		EndTime:        "22:00",
		Alignment:      models.Alignment{Contractor: models.ContractorDetails{DressCode: "preto"}},
	})
	if err != nil {
		t.Fatalf("insert offer: %v", err)
	}
	if offer.Status != models.StatusAwaitingAcceptance || offer.ViewStatus != models.ViewSent {
		t.Fatalf("inserted offer = %+v", offer)
	}

	select {
	case got := <-sub.Events():
		if got.ID != offer.ID || got.Alignment.Contractor.DressCode != "preto" {
			t.Fatalf("feed delivered %+v", got)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("insert notification not delivered")
	}

	pending, err := store.QueryPending(ctx, cred.User.ID)
	if err != nil || len(pending) != 1 {
		t.Fatalf("QueryPending = %d, %v", len(pending), err)
	}

	if changed, err := store.MarkViewed(ctx, offer.ID); err != nil || !changed {
		t.Fatalf("first MarkViewed = %v, %v", changed, err)
	}
	if changed, err := store.MarkViewed(ctx, offer.ID); err != nil || changed {
		t.Fatalf("second MarkViewed = %v, %v", changed, err)
	}

	if err := store.UpdateDecision(ctx, offer.ID, models.StatusDeclined); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if err := store.UpdateDecision(ctx, offer.ID, models.StatusAwaitingPayment); !errors.Is(err, storage.ErrStale) {
		t.Fatalf("accept after decline err = %v, want ErrStale", err)
	}
	if err := store.UpdateDecision(ctx, "00000000-0000-0000-0000-000000000000", models.StatusDeclined); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("unknown offer err = %v, want ErrNotFound", err)
	}

	got, err := store.GetOffer(ctx, offer.ID)
	if err != nil || got.Status != models.StatusDeclined || got.ViewStatus != models.ViewViewed {
		t.Fatalf("final offer = %+v, %v", got, err)
	}
}

func mustGetEnv(t *testing.T, key string) string {
	t.Helper()
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		t.Fatalf("%s is required", key)
	}
	return val
}

func loadDotEnv() {
	for _, path := range []string{".env", "../.env", "../../.env", "../../../.env"} {
		_ = godotenv.Overload(path)
	}
}
