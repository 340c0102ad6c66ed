// Package wallet creates chat wallets and escrows their keys in the vault.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SecretName is the vault name the wallet key is stored under.
const SecretName = "wallet_private_key"

var (
	ErrProvisioningFailed = errors.New("wallet provisioning failed")
	ErrFundingFailed      = errors.New("wallet funding failed")
	ErrNamingFailed       = errors.New("wallet naming failed")
)

// SecretStore escrows private keys.
type SecretStore interface {
	StoreSecret(ctx context.Context, appID, seed, name, value string) error
}

// Funder sends the initial balance to a new wallet.
type Funder interface {
	Fund(ctx context.Context, address string) error
}

// Namer registers a human-readable name for a wallet and returns it.
type Namer interface {
	Register(ctx context.Context, address string) (string, error)
}

// KeyGenerator returns a fresh private key. Production uses crypto.GenerateKey.
type KeyGenerator func() (*ecdsa.PrivateKey, error)

// Result describes a provisioned wallet. FundingErr and NamingErr are
// warnings; the wallet is usable regardless.
type Result struct {
	Address    string
	Name       string
	FundingErr error
	NamingErr  error
}

// Warnings returns the non-fatal errors recorded during provisioning.
func (r Result) Warnings() []error {
	var out []error
	if r.FundingErr != nil {
		out = append(out, r.FundingErr)
	}
	if r.NamingErr != nil {
		out = append(out, r.NamingErr)
	}
	return out
}

// Options configures a Provisioner. Funder and Namer are optional.
type Options struct {
	Secrets  SecretStore
	UserSeed string
	Funder   Funder
	Namer    Namer
	NewKey   KeyGenerator
}

// Provisioner generates wallets, escrows keys and optionally funds and names them.
type Provisioner struct {
	secrets  SecretStore
	userSeed string
	funder   Funder
	namer    Namer
	newKey   KeyGenerator
}

// NewProvisioner validates options and builds a Provisioner.
func NewProvisioner(opts Options) (*Provisioner, error) {
	if opts.Secrets == nil {
		return nil, errors.New("secret store is required")
	}
	if strings.TrimSpace(opts.UserSeed) == "" {
		return nil, errors.New("vault user seed is required")
	}
	newKey := opts.NewKey
	if newKey == nil {
		newKey = crypto.GenerateKey
	}
	return &Provisioner{
		secrets:  opts.Secrets,
		userSeed: opts.UserSeed,
		funder:   opts.Funder,
		namer:    opts.Namer,
		newKey:   newKey,
	}, nil
}

// Provision creates a wallet for chatID and escrows its key under appID.
// Only key escrow is fatal.
func (p *Provisioner) Provision(ctx context.Context, chatID, appID string) (Result, error) {
	if appID == "" {
		return Result{}, fmt.Errorf("%w: app id is required", ErrProvisioningFailed)
	}

	key, err := p.newKey()
	if err != nil {
		return Result{}, fmt.Errorf("%w: generate key: %w", ErrProvisioningFailed, err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	log.Printf("[wallet] created wallet for chat %s: %s", chatID, address)

	if err := p.secrets.StoreSecret(ctx, appID, p.userSeed, SecretName, hexutil.Encode(crypto.FromECDSA(key))); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}

	res := Result{Address: address}

	if p.funder != nil {
		if err := p.funder.Fund(ctx, address); err != nil {
			res.FundingErr = fmt.Errorf("%w: %w", ErrFundingFailed, err)
			log.Printf("[wallet] funding %s for chat %s failed: %v", address, chatID, err)
		}
	}

	if p.namer != nil {
		name, err := p.namer.Register(ctx, address)
		if err != nil {
			res.NamingErr = fmt.Errorf("%w: %w", ErrNamingFailed, err)
			log.Printf("[wallet] naming %s for chat %s failed: %v", address, chatID, err)
		} else {
			res.Name = name
			log.Printf("[wallet] registered %s for %s", name, address)
		}
	}

	return res, nil
}

// AddressFromKey derives the checksummed address of a hex private key.
func AddressFromKey(hexKey string) (string, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}
