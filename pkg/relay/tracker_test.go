package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xswap/pkg/bigint"
	"xswap/pkg/chain"
	"xswap/pkg/chain/chaintest"
	"xswap/pkg/store"
	"xswap/pkg/types"
)

const (
	hub  = "0x1.icon"
	arb  = "0xa4b1.arbitrum"
	suiC = "sui"
)

type heights map[string]uint64

func (h heights) Get(chainID string) uint64 { return h[chainID] }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recorder struct {
	mu  sync.Mutex
	txs []types.Transaction
}

func (r *recorder) Transaction(tx types.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs = append(r.txs, tx)
}
func (r *recorder) Intent(types.IntentOrder) {}
func (r *recorder) Close()                   {}

type fixture struct {
	hub, arb, sui *chaintest.Adapter
	registry      *chain.Registry
	heights       heights
	stores        *store.Stores
	notified      *recorder
	tracker       *Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		hub:      chaintest.New(hub),
		arb:      chaintest.New(arb),
		sui:      chaintest.New(suiC),
		registry: chain.NewRegistry(hub),
		heights:  heights{},
		notified: &recorder{},
	}
	f.registry.Register(f.hub, chain.Settings{SafetyMargin: 20})
	f.registry.Register(f.arb, chain.Settings{SafetyMargin: 20})
	f.registry.Register(f.sui, chain.Settings{SafetyMargin: 10})

	var err error
	f.stores, err = store.Open(t.TempDir())
	require.NoError(t, err)

	c := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	f.tracker = NewTracker(Config{Concurrency: 2, Now: c.Now}, f.registry, f.heights, f.stores, f.notified)
	return f
}

// submit stores a pending transaction from src with its primary message to dest.
func (f *fixture) submit(t *testing.T, src, hash, dest, final string, floor, finalFloor uint64) string {
	t.Helper()
	id := types.TransactionID(src, hash)
	now := time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)
	require.NoError(t, f.stores.Transactions.Create(types.Transaction{
		ID:                                      id,
		Type:                                    types.TxSwap,
		Status:                                  types.TxPending,
		SourceChainID:                           src,
		SourceTxHash:                            hash,
		FinalDestinationChainID:                 final,
		SecondaryMessageRequired:                final != dest,
		FinalDestinationChainInitialBlockHeight: bigint.U64(finalFloor),
		CreatedAt:                               now,
		UpdatedAt:                               now,
	}))
	require.NoError(t, f.stores.Messages.Create(types.RelayMessage{
		ID:                                 types.MessageID(src, hash),
		XTransactionID:                     id,
		SourceChainID:                      src,
		DestinationChainID:                 dest,
		SourceTransactionHash:              hash,
		Status:                             types.MessageRequested,
		IsPrimary:                          true,
		DestinationChainInitialBlockHeight: bigint.U64(floor),
		CreatedAt:                          now,
		UpdatedAt:                          now,
	}))
	return id
}

func sent(sn uint64) types.RelayEvent {
	return types.RelayEvent{Kind: types.EventCallMessageSent, SN: bigint.FromUint64(sn)}
}

func delivered(height, sn, reqID uint64) types.RelayEvent {
	return types.RelayEvent{
		Kind:        types.EventCallMessage,
		TxHash:      "0xdeliver",
		BlockHeight: bigint.U64(height),
		SN:          bigint.FromUint64(sn),
		ReqID:       bigint.FromUint64(reqID),
	}
}

func executed(height, reqID uint64, code int64, hash string) types.RelayEvent {
	return types.RelayEvent{
		Kind:        types.EventCallExecuted,
		TxHash:      hash,
		BlockHeight: bigint.U64(height),
		ReqID:       bigint.FromUint64(reqID),
		Code:        code,
	}
}

func (f *fixture) run(t *testing.T) {
	t.Helper()
	require.NoError(t, f.tracker.Run(context.Background()))
}

func TestSingleHopToHub(t *testing.T) {
	f := newFixture(t)
	f.arb.SetReceipt("0xsrc", "1", 10, sent(7))
	f.hub.AddEvent(delivered(95, 7, 3))
	f.hub.AddEvent(executed(96, 3, 1, "0xexec"))
	f.heights[hub] = 100

	id := f.submit(t, arb, "0xsrc", hub, hub, 80, 0)
	f.run(t)

	msg, err := f.stores.Messages.Get(id)
	require.NoError(t, err)
	require.Equal(t, types.MessageExecuted, msg.Status)
	require.Equal(t, "7", msg.SN.String())
	require.Equal(t, "3", msg.ReqID.String())
	require.Equal(t, "0xexec", msg.ExecutedTxHash)
	require.Equal(t, uint64(100), msg.LastScannedHeight.Uint64())
	require.NotNil(t, msg.ExecutedAt)

	tx, err := f.stores.Transactions.Get(id)
	require.NoError(t, err)
	require.Equal(t, types.TxSuccess, tx.Status)
	require.Len(t, f.stores.Messages.ListByTransaction(id), 1)

	require.Len(t, f.notified.txs, 1)
	require.Equal(t, types.TxSuccess, f.notified.txs[0].Status)
	require.Equal(t, []chain.Range{{Start: 80, End: 100}}, f.hub.Scans)
}

func TestTwoHopSwap(t *testing.T) {
	f := newFixture(t)
	f.arb.SetReceipt("0xsrc", "1", 10, sent(7))
	f.hub.AddEvent(delivered(95, 7, 3))
	f.hub.AddEvent(executed(96, 3, 1, "0xexec"))
	f.hub.SetReceipt("0xexec", "1", 96, sent(11))
	f.heights[hub] = 100

	id := f.submit(t, arb, "0xsrc", hub, suiC, 80, 500)
	f.run(t)

	tx, err := f.stores.Transactions.Get(id)
	require.NoError(t, err)
	require.Equal(t, types.TxPending, tx.Status)

	msgs := f.stores.Messages.ListByTransaction(id)
	require.Len(t, msgs, 2)
	primary, secondary := msgs[0], msgs[1]
	require.Equal(t, types.MessageExecuted, primary.Status)
	require.False(t, secondary.IsPrimary)
	require.Equal(t, hub+"/0xexec", secondary.ID)
	require.Equal(t, hub, secondary.SourceChainID)
	require.Equal(t, "0xexec", secondary.SourceTransactionHash)
	require.Equal(t, suiC, secondary.DestinationChainID)
	require.Equal(t, types.MessageRequested, secondary.Status)
	require.Equal(t, uint64(490), secondary.DestinationChainInitialBlockHeight.Uint64())
	require.False(t, secondary.CreatedAt.Before(*primary.ExecutedAt))

	f.sui.AddEvent(delivered(495, 11, 4))
	f.sui.AddEvent(executed(496, 4, 1, "0xfinal"))
	f.heights[suiC] = 510
	f.run(t)

	secondary, err = f.stores.Messages.Get(secondary.ID)
	require.NoError(t, err)
	require.Equal(t, types.MessageExecuted, secondary.Status)
	require.Equal(t, "0xfinal", secondary.ExecutedTxHash)

	tx, err = f.stores.Transactions.Get(id)
	require.NoError(t, err)
	require.Equal(t, types.TxSuccess, tx.Status)
	require.Equal(t, []chain.Range{{Start: 490, End: 510}}, f.sui.Scans)
}

func TestDeliveredAcrossRuns(t *testing.T) {
	f := newFixture(t)
	f.arb.SetReceipt("0xsrc", "1", 10, sent(7))
	f.hub.AddEvent(delivered(95, 7, 3))
	f.heights[hub] = 100

	id := f.submit(t, arb, "0xsrc", hub, hub, 80, 0)
	f.run(t)

	msg, err := f.stores.Messages.Get(id)
	require.NoError(t, err)
	require.Equal(t, types.MessageDelivered, msg.Status)

	// A stale CallMessage in the next window must not move the status back.
	f.hub.AddEvent(delivered(101, 7, 3))
	f.hub.AddEvent(executed(102, 3, 1, "0xexec"))
	f.heights[hub] = 105
	f.run(t)

	msg, err = f.stores.Messages.Get(id)
	require.NoError(t, err)
	require.Equal(t, types.MessageExecuted, msg.Status)
	require.Equal(t, chain.Range{Start: 101, End: 105}, f.hub.Scans[1])
}

func TestDestinationCallFailure(t *testing.T) {
	f := newFixture(t)
	f.arb.SetReceipt("0xsrc", "1", 10, sent(7))
	f.hub.AddEvent(delivered(95, 7, 3))
	f.hub.AddEvent(executed(96, 3, 0, "0xexec"))
	f.heights[hub] = 100

	id := f.submit(t, arb, "0xsrc", hub, suiC, 80, 500)
	f.run(t)

	msgs := f.stores.Messages.ListByTransaction(id)
	require.Len(t, msgs, 1)
	require.Equal(t, types.MessageFailed, msgs[0].Status)
	require.Contains(t, msgs[0].Error, "code 0")

	tx, err := f.stores.Transactions.Get(id)
	require.NoError(t, err)
	require.Equal(t, types.TxFailure, tx.Status)
}

func TestSourceReverted(t *testing.T) {
	f := newFixture(t)
	f.arb.SetReceipt("0xsrc", "0", 10)
	f.heights[hub] = 100

	id := f.submit(t, arb, "0xsrc", hub, hub, 80, 0)
	f.run(t)

	msg, err := f.stores.Messages.Get(id)
	require.NoError(t, err)
	require.Equal(t, types.MessageFailed, msg.Status)
	require.Empty(t, f.hub.Scans)

	tx, err := f.stores.Transactions.Get(id)
	require.NoError(t, err)
	require.Equal(t, types.TxFailure, tx.Status)
}

func TestSourceWithoutRelayCall(t *testing.T) {
	f := newFixture(t)
	f.arb.SetReceipt("0xsrc", "1", 10)

	id := f.submit(t, arb, "0xsrc", hub, hub, 80, 0)
	f.run(t)

	msg, err := f.stores.Messages.Get(id)
	require.NoError(t, err)
	require.Equal(t, types.MessageFailed, msg.Status)
	require.Contains(t, msg.Error, "CallMessageSent")
}

func TestPendingSourceWaits(t *testing.T) {
	f := newFixture(t)
	f.heights[hub] = 100

	id := f.submit(t, arb, "0xsrc", hub, hub, 80, 0)
	f.run(t)

	msg, err := f.stores.Messages.Get(id)
	require.NoError(t, err)
	require.Equal(t, types.MessageRequested, msg.Status)
	require.Empty(t, f.hub.Scans)
}

func TestScanErrorIsRetried(t *testing.T) {
	f := newFixture(t)
	f.arb.SetReceipt("0xsrc", "1", 10, sent(7))
	f.hub.LogErr = errors.New("connection refused")
	f.heights[hub] = 100

	id := f.submit(t, arb, "0xsrc", hub, hub, 80, 0)
	f.run(t)

	msg, err := f.stores.Messages.Get(id)
	require.NoError(t, err)
	require.Equal(t, types.MessageRequested, msg.Status)
	require.True(t, msg.HasSN())
	require.Zero(t, msg.LastScannedHeight.Uint64())

	f.hub.LogErr = nil
	f.hub.AddEvent(delivered(95, 7, 3))
	f.run(t)

	msg, err = f.stores.Messages.Get(id)
	require.NoError(t, err)
	require.Equal(t, types.MessageDelivered, msg.Status)
	require.Equal(t, chain.Range{Start: 80, End: 100}, f.hub.Scans[1])
}

func TestScanWindowBounds(t *testing.T) {
	f := newFixture(t)
	f.registry.Register(f.hub, chain.Settings{SafetyMargin: 20, MaxScanBlocks: 10})
	f.arb.SetReceipt("0xsrc", "1", 10, sent(7))
	f.heights[hub] = 70

	id := f.submit(t, arb, "0xsrc", hub, hub, 80, 0)
	f.run(t)
	require.Empty(t, f.hub.Scans)

	f.heights[hub] = 200
	f.run(t)
	f.run(t)
	require.Equal(t, []chain.Range{{Start: 80, End: 89}, {Start: 90, End: 99}}, f.hub.Scans)

	msg, err := f.stores.Messages.Get(id)
	require.NoError(t, err)
	require.Equal(t, uint64(99), msg.LastScannedHeight.Uint64())
}

func TestOtherSerialNumberIgnored(t *testing.T) {
	f := newFixture(t)
	f.arb.SetReceipt("0xsrc", "1", 10, sent(7))
	f.hub.AddEvent(delivered(95, 8, 3))
	f.hub.AddEvent(executed(96, 3, 1, "0xexec"))
	f.heights[hub] = 100

	id := f.submit(t, arb, "0xsrc", hub, hub, 80, 0)
	f.run(t)

	msg, err := f.stores.Messages.Get(id)
	require.NoError(t, err)
	require.Equal(t, types.MessageRequested, msg.Status)
}
