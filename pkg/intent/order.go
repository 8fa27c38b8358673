// Package intent creates, cancels and tracks intent swap orders filled by an
// off-chain solver.
package intent

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

// SwapOrder is the on-chain order payload. Field order is the canonical
// encoding order on every chain family.
type SwapOrder struct {
	ID                 *big.Int `abi:"id"`
	Emitter            string   `abi:"emitter"`
	SrcNID             string   `abi:"srcNID"`
	DstNID             string   `abi:"dstNID"`
	Creator            string   `abi:"creator"`
	DestinationAddress string   `abi:"destinationAddress"`
	Token              string   `abi:"token"`
	Amount             *big.Int `abi:"amount"`
	ToToken            string   `abi:"toToken"`
	ToAmount           *big.Int `abi:"toAmount"`
	Data               []byte   `abi:"data"`
}

// normalize replaces nil integers with zero and empty data with nil so that
// orders decoded from different encodings compare equal.
func (o SwapOrder) normalize() SwapOrder {
	if o.ID == nil {
		o.ID = new(big.Int)
	}
	if o.Amount == nil {
		o.Amount = new(big.Int)
	}
	if o.ToAmount == nil {
		o.ToAmount = new(big.Int)
	}
	if len(o.Data) == 0 {
		o.Data = nil
	}
	return o
}

// RLP returns the ledger-chain encoding of the order.
func (o SwapOrder) RLP() ([]byte, error) {
	n := o.normalize()
	return rlp.EncodeToBytes(&n)
}

// DecodeOrderRLP parses the ledger-chain encoding.
func DecodeOrderRLP(data []byte) (SwapOrder, error) {
	var o SwapOrder
	if err := rlp.DecodeBytes(data, &o); err != nil {
		return SwapOrder{}, errors.Wrap(err, "decode swap order")
	}
	return o.normalize(), nil
}

const swapOrderComponents = `[
	{"name":"id","type":"uint256"},
	{"name":"emitter","type":"string"},
	{"name":"srcNID","type":"string"},
	{"name":"dstNID","type":"string"},
	{"name":"creator","type":"string"},
	{"name":"destinationAddress","type":"string"},
	{"name":"token","type":"string"},
	{"name":"amount","type":"uint256"},
	{"name":"toToken","type":"string"},
	{"name":"toAmount","type":"uint256"},
	{"name":"data","type":"bytes"}
]`

// Intent contract surface used by the EVM adapter.
var intentABI = mustParseABI(`[
	{"type":"function","name":"swap","stateMutability":"payable","inputs":[{"name":"order","type":"tuple","components":` + swapOrderComponents + `}],"outputs":[]},
	{"type":"function","name":"cancel","stateMutability":"nonpayable","inputs":[{"name":"id","type":"uint256"}],"outputs":[]},
	{"type":"event","name":"SwapIntent","anonymous":false,"inputs":[
		{"name":"id","type":"uint256","indexed":true},
		{"name":"emitter","type":"string","indexed":false},
		{"name":"srcNID","type":"string","indexed":false},
		{"name":"dstNID","type":"string","indexed":false},
		{"name":"creator","type":"string","indexed":false},
		{"name":"destinationAddress","type":"string","indexed":false},
		{"name":"token","type":"string","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"toToken","type":"string","indexed":false},
		{"name":"toAmount","type":"uint256","indexed":false},
		{"name":"data","type":"bytes","indexed":false}
	]}
]`)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// packSwap returns the calldata of swap(order).
func packSwap(o SwapOrder) ([]byte, error) {
	return intentABI.Pack("swap", o.normalize())
}

// unpackSwapIntent rebuilds the order from a SwapIntent log.
func unpackSwapIntent(topics []common.Hash, data []byte) (SwapOrder, error) {
	if len(topics) < 2 {
		return SwapOrder{}, errors.New("SwapIntent: missing id topic")
	}
	values, err := intentABI.Unpack("SwapIntent", data)
	if err != nil {
		return SwapOrder{}, errors.Wrap(err, "unpack SwapIntent")
	}
	if len(values) != 10 {
		return SwapOrder{}, errors.Errorf("SwapIntent: got %d fields", len(values))
	}
	str := func(i int) string { s, _ := values[i].(string); return s }
	num := func(i int) *big.Int { n, _ := values[i].(*big.Int); return n }
	raw, _ := values[9].([]byte)

	return SwapOrder{
		ID:                 topics[1].Big(),
		Emitter:            str(0),
		SrcNID:             str(1),
		DstNID:             str(2),
		Creator:            str(3),
		DestinationAddress: str(4),
		Token:              str(5),
		Amount:             num(6),
		ToToken:            str(7),
		ToAmount:           num(8),
		Data:               raw,
	}.normalize(), nil
}
