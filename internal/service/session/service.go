// Package session runs the per-chat state machine that provisions wallets and
// records booking intent.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/moby/locker"

	"github.com/BookMeBot/book-me-bot/internal/metrics"
	"github.com/BookMeBot/book-me-bot/internal/model/chat"
	"github.com/BookMeBot/book-me-bot/internal/service/events"
	"github.com/BookMeBot/book-me-bot/internal/service/wallet"
)

var (
	ErrInitializationFailed = errors.New("initialization failed")
	ErrSessionNotFound      = errors.New("session not found")
	ErrNoWallet             = errors.New("no wallet for chat")
	ErrNoAppID              = errors.New("no vault app id for chat")
	ErrKeyUnavailable       = errors.New("private key unavailable")
	ErrChatIDRequired       = errors.New("chat id is required")
)

// Repository persists sessions and the chat index.
type Repository interface {
	Load(ctx context.Context, chatID string) (chat.Session, bool, error)
	Save(ctx context.Context, sess chat.Session) error
	AddChatID(ctx context.Context, chatID string) (bool, error)
	ChatIDs(ctx context.Context) ([]string, error)
}

// Vault is the part of the secret store the state machine reads.
type Vault interface {
	RegisterAppID(ctx context.Context) (string, error)
	RetrieveSecret(ctx context.Context, appID, seed, name string) (string, bool, error)
}

// Provisioner creates wallets.
type Provisioner interface {
	Provision(ctx context.Context, chatID, appID string) (wallet.Result, error)
}

// Activation reports what an activation did.
type Activation struct {
	Session     chat.Session
	Provisioned bool
	Repaired    bool
	Warnings    []error
}

// State is the provisioning state after the activation.
func (a Activation) State() chat.State {
	return a.Session.State()
}

// Options wires a Service.
type Options struct {
	Repo        Repository
	Vault       Vault
	Provisioner Provisioner
	UserSeed    string
	Events      events.Publisher
	Metrics     *metrics.Metrics
}

// Service is the session state machine. Mutations of one chat's session are
// serialized; different chats proceed independently.
type Service struct {
	repo        Repository
	vault       Vault
	provisioner Provisioner
	userSeed    string
	events      events.Publisher
	metrics     *metrics.Metrics
	locks       *locker.Locker
}

// NewService validates and wires the state machine.
func NewService(opts Options) (*Service, error) {
	if opts.Repo == nil || opts.Vault == nil || opts.Provisioner == nil {
		return nil, errors.New("session service requires repo, vault and provisioner")
	}
	return &Service{
		repo:        opts.Repo,
		vault:       opts.Vault,
		provisioner: opts.Provisioner,
		userSeed:    opts.UserSeed,
		events:      opts.Events,
		metrics:     opts.Metrics,
		locks:       locker.New(),
	}, nil
}

// Activate loads or creates the chat's session, makes sure it has a vault app
// id and an escrowed wallet, persists it and records the chat in the index.
// Failures leave whatever was already persisted; calling again resumes.
func (s *Service) Activate(ctx context.Context, chatID string) (Activation, error) {
	if chatID == "" {
		return Activation{}, ErrChatIDRequired
	}

	s.locks.Lock(chatID)
	act, err := s.activate(ctx, chatID)
	_ = s.locks.Unlock(chatID)

	if err == nil {
		if _, idxErr := s.repo.AddChatID(ctx, chatID); idxErr != nil {
			err = fmt.Errorf("update chat index: %w", idxErr)
		}
	}
	if err != nil {
		log.Printf("[session] initialization failed for chat %s: %v", chatID, err)
		s.countActivation("failed")
		s.publish(events.ActivationFailed, chatID, nil)
		return act, fmt.Errorf("%w: %w", ErrInitializationFailed, err)
	}

	for _, w := range act.Warnings {
		s.countWarning(w)
	}
	s.countActivation("ok")
	if act.Provisioned {
		s.publish(events.WalletProvisioned, chatID, map[string]any{
			"address":  act.Session.WalletAddress,
			"basename": act.Session.Basename,
		})
	}
	s.publish(events.Activated, chatID, map[string]any{"state": string(act.State())})
	return act, nil
}

func (s *Service) activate(ctx context.Context, chatID string) (Activation, error) {
	sess, found, err := s.repo.Load(ctx, chatID)
	if err != nil {
		return Activation{}, fmt.Errorf("load session: %w", err)
	}
	if !found {
		sess = chat.NewSession(chatID)
	}
	act := Activation{Session: sess}

	if sess.VaultAppID == "" {
		appID, err := s.vault.RegisterAppID(ctx)
		if err != nil {
			return act, err
		}
		sess.VaultAppID = appID
		// Bind the app id before any further network call so it is never lost.
		if err := s.repo.Save(ctx, sess); err != nil {
			return act, fmt.Errorf("persist app id: %w", err)
		}
		act.Session = sess
	}

	key, escrowed, err := s.vault.RetrieveSecret(ctx, sess.VaultAppID, s.userSeed, wallet.SecretName)
	if err != nil {
		return act, err
	}

	switch {
	case escrowed && sess.WalletAddress == "":
		address, err := wallet.AddressFromKey(key)
		if err != nil {
			return act, fmt.Errorf("derive address from escrowed key: %w", err)
		}
		sess.WalletAddress = address
		act.Repaired = true
		log.Printf("[session] restored wallet address %s for chat %s", address, chatID)
	case !escrowed:
		res, err := s.provisioner.Provision(ctx, chatID, sess.VaultAppID)
		if err != nil {
			return act, err
		}
		sess.WalletAddress = res.Address
		if res.Name != "" {
			sess.Basename = res.Name
		}
		act.Provisioned = true
		act.Warnings = res.Warnings()
	}

	if err := s.repo.Save(ctx, sess); err != nil {
		return act, fmt.Errorf("persist session: %w", err)
	}
	act.Session = sess
	return act, nil
}

// Get returns the stored session for chatID.
func (s *Service) Get(ctx context.Context, chatID string) (chat.Session, error) {
	sess, found, err := s.repo.Load(ctx, chatID)
	if err != nil {
		return chat.Session{}, err
	}
	if !found {
		return chat.Session{}, ErrSessionNotFound
	}
	return sess, nil
}

// PrivateKey fetches the escrowed wallet key of chatID from the vault.
func (s *Service) PrivateKey(ctx context.Context, chatID string) (string, error) {
	sess, _, err := s.repo.Load(ctx, chatID)
	if err != nil {
		return "", err
	}
	if sess.WalletAddress == "" {
		return "", ErrNoWallet
	}
	if sess.VaultAppID == "" {
		return "", ErrNoAppID
	}

	key, ok, err := s.vault.RetrieveSecret(ctx, sess.VaultAppID, s.userSeed, wallet.SecretName)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	}
	if !ok {
		return "", ErrKeyUnavailable
	}
	return key, nil
}

// RecordBooking stores a captured booking intent and marks the session completed.
func (s *Service) RecordBooking(ctx context.Context, chatID string, req chat.BookingRequest) (chat.Session, error) {
	if chatID == "" {
		return chat.Session{}, ErrChatIDRequired
	}

	s.locks.Lock(chatID)
	defer func() { _ = s.locks.Unlock(chatID) }()

	sess, found, err := s.repo.Load(ctx, chatID)
	if err != nil {
		return chat.Session{}, fmt.Errorf("load session: %w", err)
	}
	if !found {
		sess = chat.NewSession(chatID)
	}

	req.Normalize()
	sess.BookingRequest = &req
	sess.Completed = true
	if err := s.repo.Save(ctx, sess); err != nil {
		return chat.Session{}, fmt.Errorf("persist booking: %w", err)
	}

	if s.metrics != nil {
		s.metrics.BookingsCaptured.Inc()
	}
	s.publish(events.BookingCaptured, chatID, map[string]any{"location": req.Location})
	return sess, nil
}

// ChatIDs lists every chat the bot has been activated in.
func (s *Service) ChatIDs(ctx context.Context) ([]string, error) {
	return s.repo.ChatIDs(ctx)
}

func (s *Service) publish(typ events.Type, chatID string, data map[string]any) {
	if s.events != nil {
		s.events.Publish(typ, chatID, data)
	}
}

func (s *Service) countActivation(result string) {
	if s.metrics != nil {
		s.metrics.Activations.WithLabelValues(result).Inc()
	}
}

func (s *Service) countWarning(err error) {
	if s.metrics == nil {
		return
	}
	kind := "other"
	switch {
	case errors.Is(err, wallet.ErrFundingFailed):
		kind = "funding"
	case errors.Is(err, wallet.ErrNamingFailed):
		kind = "naming"
	}
	s.metrics.ProvisionWarning.WithLabelValues(kind).Inc()
}
