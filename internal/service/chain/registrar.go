package chain

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const registrationGasLimit = 400000

// RegistrationFee is 0.05 ETH in wei.
var RegistrationFee = milliEther(50)

// BasenameRegistrar registers agent names for new wallets and waits for the
// registration to be mined.
type BasenameRegistrar struct {
	operator    *Operator
	names       NameGenerator
	waitTimeout time.Duration
}

// NewBasenameRegistrar builds a registrar paying fees from operator.
func NewBasenameRegistrar(operator *Operator, names NameGenerator, waitTimeout time.Duration) *BasenameRegistrar {
	if waitTimeout <= 0 {
		waitTimeout = 2 * time.Minute
	}
	return &BasenameRegistrar{operator: operator, names: names, waitTimeout: waitTimeout}
}

// Register names address and returns the registered name once confirmed.
func (r *BasenameRegistrar) Register(ctx context.Context, address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("invalid address %q", address)
	}
	name := r.names.Generate()

	req, err := NewRegisterRequest(name, common.HexToAddress(address))
	if err != nil {
		return "", err
	}
	data, err := req.Calldata()
	if err != nil {
		return "", err
	}

	tx, err := r.operator.Send(ctx, RegistrarAddress, RegistrationFee, registrationGasLimit, data)
	if err != nil {
		return "", fmt.Errorf("register %s: %w", name, err)
	}
	log.Printf("[chain] basename %s registration tx %s", name, tx.Hash().Hex())

	waitCtx, cancel := context.WithTimeout(ctx, r.waitTimeout)
	defer cancel()
	receipt, err := r.operator.WaitMined(waitCtx, tx)
	if err != nil {
		return "", fmt.Errorf("wait for %s: %w", name, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("registration of %s reverted in tx %s", name, tx.Hash().Hex())
	}
	return name, nil
}
