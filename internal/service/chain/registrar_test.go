package chain

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type fakeBackend struct {
	mu       sync.Mutex
	sent     []*types.Transaction
	status   uint64
	sendErr  error
	pending  int
	chainID  *big.Int
	gasPrice *big.Int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		status:   types.ReceiptStatusSuccessful,
		chainID:  big.NewInt(84532),
		gasPrice: big.NewInt(1_000_000_000),
	}
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return f.chainID, nil }

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return f.gasPrice, nil }

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	f.sent = append(f.sent, tx)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending > 0 {
		f.pending--
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: f.status}, nil
}

func (f *fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return nil, nil
}

func newTestOperator(t *testing.T, backend Backend) *Operator {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey err: %v", err)
	}
	op, err := NewOperator(backend, hexutil.Encode(crypto.FromECDSA(key)))
	if err != nil {
		t.Fatalf("NewOperator err: %v", err)
	}
	return op
}

func TestRegisterRequestCalldata(t *testing.T) {
	owner := common.HexToAddress("0x35E38E69Ae9b11b675f2062b3D4E9FFB5ef756AC")
	req, err := NewRegisterRequest("bold-dragon-agent.basetest.eth", owner)
	if err != nil {
		t.Fatalf("NewRegisterRequest err: %v", err)
	}

	if req.Name != "bold-dragon-agent" || !req.ReverseRecord || req.Duration.Int64() != 31557600 {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.Resolver != L2ResolverAddress {
		t.Fatalf("unexpected resolver %s", req.Resolver.Hex())
	}
	if len(req.Data) != 2 {
		t.Fatalf("expected two resolver calls, got %d", len(req.Data))
	}
	if !bytes.Equal(req.Data[0][:4], l2ResolverABI.Methods["setAddr"].ID) {
		t.Fatal("first sub-call must be setAddr")
	}
	if !bytes.Equal(req.Data[1][:4], l2ResolverABI.Methods["setName"].ID) {
		t.Fatal("second sub-call must be setName")
	}

	data, err := req.Calldata()
	if err != nil {
		t.Fatalf("Calldata err: %v", err)
	}
	if !bytes.Equal(data[:4], registrarABI.Methods["register"].ID) {
		t.Fatal("calldata must start with the register selector")
	}
}

func TestBasenameRegistrarSendsFeeAndWaits(t *testing.T) {
	backend := newFakeBackend()
	backend.pending = 1
	op := newTestOperator(t, backend)
	reg := NewBasenameRegistrar(op, NewNameGenerator(func(n int) int { return n - 1 }), 0)

	name, err := reg.Register(context.Background(), "0x35E38E69Ae9b11b675f2062b3D4E9FFB5ef756AC")
	if err != nil {
		t.Fatalf("Register err: %v", err)
	}
	if name != "bold-dragon-agent.basetest.eth" {
		t.Fatalf("unexpected name %q", name)
	}

	if len(backend.sent) != 1 {
		t.Fatalf("expected one tx, got %d", len(backend.sent))
	}
	tx := backend.sent[0]
	if *tx.To() != RegistrarAddress {
		t.Fatalf("tx sent to %s", tx.To().Hex())
	}
	if tx.Value().Cmp(big.NewInt(50_000_000_000_000_000)) != 0 {
		t.Fatalf("unexpected fee %s", tx.Value())
	}
	if tx.Gas() != 400000 {
		t.Fatalf("unexpected gas %d", tx.Gas())
	}
}

func TestBasenameRegistrarReverted(t *testing.T) {
	backend := newFakeBackend()
	backend.status = types.ReceiptStatusFailed
	reg := NewBasenameRegistrar(newTestOperator(t, backend), NewNameGenerator(nil), 0)

	if _, err := reg.Register(context.Background(), "0x35E38E69Ae9b11b675f2062b3D4E9FFB5ef756AC"); err == nil {
		t.Fatal("expected error for reverted registration")
	}
}

func TestFunderSendsFixedTransfer(t *testing.T) {
	backend := newFakeBackend()
	funder := NewFunder(newTestOperator(t, backend))
	to := "0x35E38E69Ae9b11b675f2062b3D4E9FFB5ef756AC"

	if err := funder.Fund(context.Background(), to); err != nil {
		t.Fatalf("Fund err: %v", err)
	}
	tx := backend.sent[0]
	if tx.Value().Cmp(big.NewInt(10_000_000_000_000_000)) != 0 || tx.Gas() != 21000 {
		t.Fatalf("unexpected transfer value=%s gas=%d", tx.Value(), tx.Gas())
	}
	if *tx.To() != common.HexToAddress(to) {
		t.Fatalf("unexpected recipient %s", tx.To().Hex())
	}
}

func TestFunderPropagatesSendError(t *testing.T) {
	backend := newFakeBackend()
	backend.sendErr = errors.New("insufficient funds")
	funder := NewFunder(newTestOperator(t, backend))

	if err := funder.Fund(context.Background(), "0x35E38E69Ae9b11b675f2062b3D4E9FFB5ef756AC"); err == nil {
		t.Fatal("expected send error")
	}
}

func TestFunderRejectsInvalidAddress(t *testing.T) {
	funder := NewFunder(newTestOperator(t, newFakeBackend()))
	if err := funder.Fund(context.Background(), "not-an-address"); err == nil {
		t.Fatal("expected invalid address error")
	}
}

func TestWaitMinedStopsWhenContextEnds(t *testing.T) {
	backend := newFakeBackend()
	backend.pending = 1 << 20
	op := newTestOperator(t, backend)

	tx, err := op.Send(context.Background(), RegistrarAddress, big.NewInt(1), 21000, nil)
	if err != nil {
		t.Fatalf("Send err: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := op.WaitMined(ctx, tx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
