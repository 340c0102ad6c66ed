// Package chain sends the funding and name-registration transactions made
// on behalf of newly provisioned wallets.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Backend is the part of ethclient.Client the operator needs.
type Backend interface {
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Operator signs and submits transactions from the operator-controlled
// funding account. Submissions are serialized so nonces never collide.
type Operator struct {
	backend Backend
	key     *ecdsa.PrivateKey
	address common.Address

	mu sync.Mutex
}

// NewOperator parses a hex private key (with or without 0x).
func NewOperator(backend Backend, hexKey string) (*Operator, error) {
	if backend == nil {
		return nil, errors.New("chain backend is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	return &Operator{
		backend: backend,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address is the operator account.
func (o *Operator) Address() common.Address {
	return o.address
}

// Send signs and submits a legacy transaction.
func (o *Operator) Send(ctx context.Context, to common.Address, value *big.Int, gasLimit uint64, data []byte) (*types.Transaction, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	chainID, err := o.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	nonce, err := o.backend.PendingNonceAt(ctx, o.address)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := o.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    value,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), o.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := o.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}
	return signed, nil
}

// WaitMined blocks until the transaction has a receipt or ctx ends.
func (o *Operator) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, o.backend, tx.Hash())
	if err != nil {
		return nil, fmt.Errorf("receipt %s: %w", tx.Hash().Hex(), err)
	}
	return receipt, nil
}

// milliEther converts thousandths of an ether to wei.
func milliEther(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000))
}
