package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	RegistrarAddress  = common.HexToAddress("0x49aE3cC2e3AA768B1e5654f5D3C6002144A59581")
	L2ResolverAddress = common.HexToAddress("0x6533C94869D28fAA8dF77cc63f9e2b2D6Cf77eBA")
)

// RegistrationDuration is one year in seconds.
const RegistrationDuration = 31557600

const registrarABIJSON = `[{
  "inputs": [{
    "components": [
      {"internalType": "string", "name": "name", "type": "string"},
      {"internalType": "address", "name": "owner", "type": "address"},
      {"internalType": "uint256", "name": "duration", "type": "uint256"},
      {"internalType": "address", "name": "resolver", "type": "address"},
      {"internalType": "bytes[]", "name": "data", "type": "bytes[]"},
      {"internalType": "bool", "name": "reverseRecord", "type": "bool"}
    ],
    "internalType": "struct RegistrarController.RegisterRequest",
    "name": "request",
    "type": "tuple"
  }],
  "name": "register",
  "outputs": [],
  "stateMutability": "payable",
  "type": "function"
}]`

const l2ResolverABIJSON = `[
  {"inputs": [{"internalType": "bytes32", "name": "node", "type": "bytes32"},
              {"internalType": "address", "name": "a", "type": "address"}],
   "name": "setAddr", "outputs": [], "stateMutability": "nonpayable", "type": "function"},
  {"inputs": [{"internalType": "bytes32", "name": "node", "type": "bytes32"},
              {"internalType": "string", "name": "newName", "type": "string"}],
   "name": "setName", "outputs": [], "stateMutability": "nonpayable", "type": "function"}
]`

var (
	registrarABI  = mustParseABI(registrarABIJSON)
	l2ResolverABI = mustParseABI(l2ResolverABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// RegisterRequest is the registrar's request tuple.
type RegisterRequest struct {
	Name          string         `abi:"name"`
	Owner         common.Address `abi:"owner"`
	Duration      *big.Int       `abi:"duration"`
	Resolver      common.Address `abi:"resolver"`
	Data          [][]byte       `abi:"data"`
	ReverseRecord bool           `abi:"reverseRecord"`
}

// NewRegisterRequest bundles the resolver sub-calls for name -> owner.
func NewRegisterRequest(name string, owner common.Address) (RegisterRequest, error) {
	node := Namehash(name)

	addrData, err := l2ResolverABI.Pack("setAddr", node, owner)
	if err != nil {
		return RegisterRequest{}, fmt.Errorf("pack setAddr: %w", err)
	}
	nameData, err := l2ResolverABI.Pack("setName", node, name)
	if err != nil {
		return RegisterRequest{}, fmt.Errorf("pack setName: %w", err)
	}

	return RegisterRequest{
		Name:          Label(name),
		Owner:         owner,
		Duration:      big.NewInt(RegistrationDuration),
		Resolver:      L2ResolverAddress,
		Data:          [][]byte{addrData, nameData},
		ReverseRecord: true,
	}, nil
}

// Calldata encodes the register call.
func (r RegisterRequest) Calldata() ([]byte, error) {
	data, err := registrarABI.Pack("register", r)
	if err != nil {
		return nil, fmt.Errorf("pack register: %w", err)
	}
	return data, nil
}
