package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/BookMeBot/book-me-bot/internal/metrics"
	"github.com/BookMeBot/book-me-bot/internal/model/chat"
	"github.com/BookMeBot/book-me-bot/internal/service/events"
	"github.com/BookMeBot/book-me-bot/internal/service/session"
	"github.com/BookMeBot/book-me-bot/internal/service/wallet"
	"github.com/BookMeBot/book-me-bot/internal/store"
)

// memVault is an in-memory vault that also satisfies wallet.SecretStore.
type memVault struct {
	mu          sync.Mutex
	registered  int
	stores      int
	secrets     map[string]string
	registerErr error
	readErr     error
}

func newMemVault() *memVault {
	return &memVault{secrets: make(map[string]string)}
}

func (v *memVault) RegisterAppID(context.Context) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.registerErr != nil {
		return "", v.registerErr
	}
	v.registered++
	return fmt.Sprintf("A%d", v.registered), nil
}

func (v *memVault) StoreSecret(_ context.Context, appID, _, name, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stores++
	v.secrets[appID+"/"+name] = value
	return nil
}

func (v *memVault) RetrieveSecret(_ context.Context, appID, _, name string) (string, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.readErr != nil {
		return "", false, v.readErr
	}
	value, ok := v.secrets[appID+"/"+name]
	return value, ok, nil
}

func (v *memVault) counts() (registered, stores int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.registered, v.stores
}

type failingFunder struct{}

func (failingFunder) Fund(context.Context, string) error { return errors.New("insufficient funds") }

type failingProvisioner struct{}

func (failingProvisioner) Provision(context.Context, string, string) (wallet.Result, error) {
	return wallet.Result{}, fmt.Errorf("%w: vault down", wallet.ErrProvisioningFailed)
}

type fixture struct {
	kv      *store.MemoryStore
	vault   *memVault
	svc     *session.Service
	metrics *metrics.Metrics
	hub     *events.Hub
}

func newFixture(t *testing.T, funder wallet.Funder) *fixture {
	t.Helper()
	vault := newMemVault()
	prov, err := wallet.NewProvisioner(wallet.Options{Secrets: vault, UserSeed: "seed", Funder: funder})
	if err != nil {
		t.Fatalf("NewProvisioner err: %v", err)
	}
	return newFixtureWith(t, vault, prov)
}

func newFixtureWith(t *testing.T, vault *memVault, prov session.Provisioner) *fixture {
	t.Helper()
	kv := store.NewMemoryStore()
	m := metrics.New(nil)
	hub := events.NewHub()
	svc, err := session.NewService(session.Options{
		Repo:        store.NewSessions(kv),
		Vault:       vault,
		Provisioner: prov,
		UserSeed:    "seed",
		Events:      hub,
		Metrics:     m,
	})
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}
	return &fixture{kv: kv, vault: vault, svc: svc, metrics: m, hub: hub}
}

func TestActivateEndToEnd(t *testing.T) {
	f := newFixture(t, failingFunder{})
	ctx := context.Background()

	act, err := f.svc.Activate(ctx, "100")
	if err != nil {
		t.Fatalf("Activate err: %v", err)
	}
	if !act.Provisioned || act.State() != chat.StateHasWallet {
		t.Fatalf("unexpected activation %+v", act)
	}
	if len(act.Warnings) != 1 || !errors.Is(act.Warnings[0], wallet.ErrFundingFailed) {
		t.Fatalf("expected funding warning, got %v", act.Warnings)
	}

	raw, err := f.kv.Get(ctx, "100")
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	var stored map[string]any
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if stored["chatId"] != "100" || stored["nillionId"] != "A1" || stored["walletAddress"] != act.Session.WalletAddress {
		t.Fatalf("unexpected stored session %v", stored)
	}
	if len(stored) != 3 {
		t.Fatalf("expected exactly chatId, nillionId, walletAddress; got %v", stored)
	}

	if _, err := f.svc.Activate(ctx, "100"); err != nil {
		t.Fatalf("second Activate err: %v", err)
	}
	ids, err := f.svc.ChatIDs(ctx)
	if err != nil {
		t.Fatalf("ChatIDs err: %v", err)
	}
	if len(ids) != 1 || ids[0] != "100" {
		t.Fatalf("expected chat index [100], got %v", ids)
	}
	if got := testutil.ToFloat64(f.metrics.ProvisionWarning.WithLabelValues("funding")); got != 1 {
		t.Fatalf("expected one funding warning counted, got %v", got)
	}
}

func TestActivateTwiceReusesAppIDAndWallet(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.Activate(ctx, "100")
	if err != nil {
		t.Fatalf("Activate err: %v", err)
	}
	second, err := f.svc.Activate(ctx, "100")
	if err != nil {
		t.Fatalf("Activate err: %v", err)
	}

	registered, stores := f.vault.counts()
	if registered != 1 || stores != 1 {
		t.Fatalf("expected one registration and one escrow, got %d/%d", registered, stores)
	}
	if second.Provisioned {
		t.Fatal("second activation must not provision")
	}
	if first.Session.WalletAddress != second.Session.WalletAddress || second.Session.VaultAppID != "A1" {
		t.Fatalf("session changed between activations: %+v vs %+v", first.Session, second.Session)
	}
}

func TestActivateConcurrentSameChat(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Activate(ctx, "100"); err != nil {
				t.Errorf("Activate err: %v", err)
			}
		}()
	}
	wg.Wait()

	registered, stores := f.vault.counts()
	if registered != 1 || stores != 1 {
		t.Fatalf("concurrent activations duplicated work: registered=%d stores=%d", registered, stores)
	}
}

func TestActivateDoesNotOverwriteExistingSecret(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	existing, err := wallet.NewProvisioner(wallet.Options{Secrets: f.vault, UserSeed: "seed"})
	if err != nil {
		t.Fatalf("NewProvisioner err: %v", err)
	}
	res, err := existing.Provision(ctx, "100", "A9")
	if err != nil {
		t.Fatalf("Provision err: %v", err)
	}
	// Partial write: app id persisted, wallet address never written.
	if err := store.NewSessions(f.kv).Save(ctx, chat.Session{ChatID: "100", VaultAppID: "A9"}); err != nil {
		t.Fatalf("Save err: %v", err)
	}

	act, err := f.svc.Activate(ctx, "100")
	if err != nil {
		t.Fatalf("Activate err: %v", err)
	}
	if act.Provisioned {
		t.Fatal("must not create a second wallet when a secret exists")
	}
	if !act.Repaired || act.Session.WalletAddress != res.Address {
		t.Fatalf("expected address restored from escrow, got %+v", act)
	}
	if _, stores := f.vault.counts(); stores != 1 {
		t.Fatalf("secret was written again: %d stores", stores)
	}
}

func TestActivateKeepsAppIDWhenProvisioningFails(t *testing.T) {
	f := newFixtureWith(t, newMemVault(), failingProvisioner{})
	ctx := context.Background()

	_, err := f.svc.Activate(ctx, "100")
	if !errors.Is(err, session.ErrInitializationFailed) || !errors.Is(err, wallet.ErrProvisioningFailed) {
		t.Fatalf("expected initialization failure wrapping provisioning error, got %v", err)
	}

	sess, err := f.svc.Get(ctx, "100")
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	if sess.VaultAppID != "A1" || sess.WalletAddress != "" {
		t.Fatalf("expected app id persisted without wallet, got %+v", sess)
	}
	if ids, _ := f.svc.ChatIDs(ctx); len(ids) != 0 {
		t.Fatalf("failed activation must not index chat, got %v", ids)
	}
	if got := testutil.ToFloat64(f.metrics.Activations.WithLabelValues("failed")); got != 1 {
		t.Fatalf("expected failed activation counted, got %v", got)
	}
}

func TestActivateVaultReadErrorDoesNotProvision(t *testing.T) {
	vault := newMemVault()
	vault.readErr = errors.New("vault read failed")
	f := newFixtureWith(t, vault, failingProvisioner{})

	if _, err := f.svc.Activate(context.Background(), "100"); !errors.Is(err, session.ErrInitializationFailed) {
		t.Fatalf("expected initialization failure, got %v", err)
	}
	if _, stores := vault.counts(); stores != 0 {
		t.Fatal("no wallet may be created when the vault cannot be read")
	}
}

func TestActivateRegistrationFailure(t *testing.T) {
	vault := newMemVault()
	vault.registerErr = errors.New("vault unavailable")
	f := newFixtureWith(t, vault, failingProvisioner{})
	ctx := context.Background()

	if _, err := f.svc.Activate(ctx, "100"); !errors.Is(err, session.ErrInitializationFailed) {
		t.Fatalf("expected initialization failure, got %v", err)
	}
	if _, err := f.svc.Get(ctx, "100"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected nothing persisted, got %v", err)
	}
}

func TestActivatePublishesEvents(t *testing.T) {
	f := newFixture(t, nil)
	ch, cancel := f.hub.Subscribe(8)
	defer cancel()

	if _, err := f.svc.Activate(context.Background(), "100"); err != nil {
		t.Fatalf("Activate err: %v", err)
	}

	if evt := <-ch; evt.Type != events.WalletProvisioned {
		t.Fatalf("expected wallet_provisioned first, got %s", evt.Type)
	}
	if evt := <-ch; evt.Type != events.Activated || evt.Data["state"] != string(chat.StateHasWallet) {
		t.Fatalf("unexpected activated event %+v", evt)
	}
}

func TestPrivateKey(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.PrivateKey(ctx, "100"); !errors.Is(err, session.ErrNoWallet) {
		t.Fatalf("expected ErrNoWallet, got %v", err)
	}

	act, err := f.svc.Activate(ctx, "100")
	if err != nil {
		t.Fatalf("Activate err: %v", err)
	}
	key, err := f.svc.PrivateKey(ctx, "100")
	if err != nil {
		t.Fatalf("PrivateKey err: %v", err)
	}
	addr, err := wallet.AddressFromKey(key)
	if err != nil || addr != act.Session.WalletAddress {
		t.Fatalf("key does not match wallet: addr=%s err=%v", addr, err)
	}
}

func TestRecordBooking(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.Activate(ctx, "100"); err != nil {
		t.Fatalf("Activate err: %v", err)
	}

	sess, err := f.svc.RecordBooking(ctx, "100", chat.BookingRequest{
		Location:   "Chiang Mai",
		GuestCount: 4,
		Features:   []string{"Wi-Fi", "swimming pool", "Wi-Fi"},
		Currency:   "USD",
	})
	if err != nil {
		t.Fatalf("RecordBooking err: %v", err)
	}
	if !sess.Completed || sess.WalletAddress == "" {
		t.Fatalf("booking must keep wallet and mark completed: %+v", sess)
	}
	if got := sess.BookingRequest.Features; len(got) != 2 {
		t.Fatalf("expected deduplicated features, got %v", got)
	}

	stored, err := f.svc.Get(ctx, "100")
	if err != nil || stored.BookingRequest == nil || stored.BookingRequest.Location != "Chiang Mai" {
		t.Fatalf("booking not persisted: %+v err=%v", stored, err)
	}
}

func TestActivateAndRecordBookingSerializePerChat(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Activate(ctx, "100"); err != nil {
				t.Errorf("Activate err: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := f.svc.RecordBooking(ctx, "100", chat.BookingRequest{Location: "Lisbon"}); err != nil {
				t.Errorf("RecordBooking err: %v", err)
			}
		}()
	}
	wg.Wait()

	sess, err := f.svc.Get(ctx, "100")
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	if sess.WalletAddress == "" || sess.BookingRequest == nil || !sess.Completed {
		t.Fatalf("interleaved writes lost state: %+v", sess)
	}
	if registered, stores := f.vault.counts(); registered != 1 || stores != 1 {
		t.Fatalf("duplicated provisioning: registered=%d stores=%d", registered, stores)
	}
}
