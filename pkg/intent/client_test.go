package intent

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xswap/pkg/chain"
	"xswap/pkg/chain/chaintest"
	"xswap/pkg/solver"
	"xswap/pkg/store"
	"xswap/pkg/types"
)

const arb = "0xa4b1.arbitrum"

type fakeSolver struct {
	mu         sync.Mutex
	output     *big.Int
	executeErr error
	status     map[string]solver.StatusResponse
	executed   []solver.ExecuteRequest
}

func (f *fakeSolver) Quote(_ context.Context, req solver.QuoteRequest) (solver.QuoteResponse, error) {
	return solver.QuoteResponse{ExpectedOutput: f.output, QuoteID: "quote-1"}, nil
}

func (f *fakeSolver) Execute(_ context.Context, req solver.ExecuteRequest) (solver.ExecuteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, req)
	if f.executeErr != nil {
		return solver.ExecuteResponse{}, f.executeErr
	}
	return solver.ExecuteResponse{Answer: "OK", TaskID: "task-1"}, nil
}

func (f *fakeSolver) Status(_ context.Context, taskID string) (solver.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.status[taskID]
	if !ok {
		return solver.StatusResponse{}, errors.New("unknown task")
	}
	return res, nil
}

func (f *fakeSolver) set(taskID string, res solver.StatusResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[taskID] = res
}

// fakeIntent is an intent contract that answers from memory.
type fakeIntent struct {
	created []SwapOrder
	onChain *big.Int
	getErr  error
	cancel  func() (string, error)
}

func (f *fakeIntent) ChainID() string  { return arb }
func (f *fakeIntent) Contract() string { return evmIntent }

func (f *fakeIntent) CreateOrder(_ context.Context, _ chain.Signer, o SwapOrder) (string, error) {
	f.created = append(f.created, o)
	return "0xorder", nil
}

func (f *fakeIntent) CancelOrder(context.Context, chain.Signer, *big.Int) (string, error) {
	return f.cancel()
}

func (f *fakeIntent) GetOrder(context.Context, string) (SwapOrder, error) {
	if f.getErr != nil {
		return SwapOrder{}, f.getErr
	}
	o := f.created[len(f.created)-1]
	o.ID = f.onChain
	return o, nil
}

type recorder struct {
	mu      sync.Mutex
	intents []types.IntentOrder
}

func (r *recorder) Transaction(types.Transaction) {}
func (r *recorder) Close()                        {}

func (r *recorder) Intent(o types.IntentOrder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = append(r.intents, o)
}

type fixture struct {
	src     *chaintest.Adapter
	solver  *fakeSolver
	intent  *fakeIntent
	intents *store.Intents
	notes   *recorder
	client  *Client
	poller  *Poller
	signer  *chaintest.Signer
}

func newFixture(t *testing.T) *fixture {
	stores, err := store.Open(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		src:     chaintest.New(arb),
		solver:  &fakeSolver{output: big.NewInt(995), status: map[string]solver.StatusResponse{}},
		intent:  &fakeIntent{onChain: big.NewInt(7)},
		intents: stores.Intents,
		notes:   &recorder{},
		signer:  &chaintest.Signer{Chain: arb, Addr: "0x00000000000000000000000000000000000000c1"},
	}
	f.src.SetReceipt("0xorder", "1", 10)

	registry := chain.NewRegistry("0x1.icon")
	registry.Register(f.src, chain.Settings{})
	cfg := ClientConfig{Receipts: ReceiptPolicy{Interval: time.Millisecond, Attempts: 3}}
	f.client = NewClient(cfg, registry, f.solver, f.intents, f.notes, f.intent)
	f.poller = NewPoller(time.Second, f.client)
	return f
}

func (f *fixture) swap(t *testing.T) types.IntentOrder {
	order, err := f.client.Swap(context.Background(), SwapRequest{
		SrcChainID:         arb,
		DstChainID:         "sui",
		FromToken:          "0x00000000000000000000000000000000000000aa",
		ToToken:            "0x2::sui::SUI",
		Amount:             big.NewInt(1000),
		DestinationAddress: "0xbeef",
		Signer:             f.signer,
	})
	require.NoError(t, err)
	return order
}

func TestSwapRegistersOrderWithSolver(t *testing.T) {
	f := newFixture(t)
	order := f.swap(t)

	require.Equal(t, types.IntentPending, order.Status)
	require.Equal(t, "task-1", order.TaskID)
	require.Equal(t, "7", order.OrderID.String())
	require.Equal(t, "0xorder", order.TxHash)
	require.Equal(t, "995", order.ToAmount.String())

	require.Len(t, f.intent.created, 1)
	created := f.intent.created[0]
	require.Equal(t, evmIntent, created.Emitter)
	require.Equal(t, f.signer.Addr, created.Creator)
	require.Equal(t, []byte("quote-1"), created.Data)
	require.Equal(t, []solver.ExecuteRequest{{IntentTxHash: "0xorder", QuoteID: "quote-1"}}, f.solver.executed)

	stored, err := f.client.Get(order.ID)
	require.NoError(t, err)
	require.Equal(t, order, stored)
}

func TestSwapMinReceive(t *testing.T) {
	f := newFixture(t)
	req := SwapRequest{
		SrcChainID: arb, DstChainID: "sui", FromToken: "0xaa", ToToken: "SUI",
		Amount: big.NewInt(1000), DestinationAddress: "0xbeef", Signer: f.signer,
		MinReceive: big.NewInt(990),
	}
	order, err := f.client.Swap(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "990", order.ToAmount.String())

	req.MinReceive = big.NewInt(1000)
	_, err = f.client.Swap(context.Background(), req)
	require.Error(t, err)
	require.Len(t, f.intent.created, 1)
}

func TestSwapSolverRejection(t *testing.T) {
	f := newFixture(t)
	f.solver.executeErr = &solver.IntentError{Code: solver.NoPathFound}

	order, err := f.client.Swap(context.Background(), SwapRequest{
		SrcChainID: arb, DstChainID: "sui", FromToken: "0xaa", ToToken: "SUI",
		Amount: big.NewInt(1000), DestinationAddress: "0xbeef", Signer: f.signer,
	})
	require.Error(t, err)
	require.Equal(t, types.IntentFailure, order.Status)
	require.Contains(t, order.Error, "no path found")
	require.Len(t, f.notes.intents, 1)
}

func TestSwapSolverUnavailableKeepsOrderPending(t *testing.T) {
	f := newFixture(t)
	f.solver.executeErr = errors.New("connection refused")

	order, err := f.client.Swap(context.Background(), SwapRequest{
		SrcChainID: arb, DstChainID: "sui", FromToken: "0xaa", ToToken: "SUI",
		Amount: big.NewInt(1000), DestinationAddress: "0xbeef", Signer: f.signer,
	})
	require.Error(t, err)
	require.Equal(t, types.IntentPending, order.Status)
	require.Empty(t, order.TaskID)
	require.Empty(t, f.intents.ListPollable())
}

func TestSwapRevertedOrderFails(t *testing.T) {
	f := newFixture(t)
	f.src.SetReceipt("0xorder", "0", 10)

	order, err := f.client.Swap(context.Background(), SwapRequest{
		SrcChainID: arb, DstChainID: "sui", FromToken: "0xaa", ToToken: "SUI",
		Amount: big.NewInt(1000), DestinationAddress: "0xbeef", Signer: f.signer,
	})
	require.NoError(t, err)
	require.Equal(t, types.IntentFailure, order.Status)
	require.Empty(t, f.solver.executed)
}

func TestSwapValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.client.Swap(context.Background(), SwapRequest{SrcChainID: arb})
	require.Error(t, err)

	_, err = f.client.Swap(context.Background(), SwapRequest{
		SrcChainID: arb, DstChainID: "sui", FromToken: "0xaa", ToToken: "SUI",
		Amount: big.NewInt(0), DestinationAddress: "0xbeef", Signer: f.signer,
	})
	require.Error(t, err)

	_, err = f.client.Swap(context.Background(), SwapRequest{
		SrcChainID: "unknown", DstChainID: "sui", FromToken: "0xaa", ToToken: "SUI",
		Amount: big.NewInt(1), DestinationAddress: "0xbeef", Signer: f.signer,
	})
	var noAdapter *chain.NoAdapterError
	require.ErrorAs(t, err, &noAdapter)
}

func TestCancelPendingOrder(t *testing.T) {
	f := newFixture(t)
	order := f.swap(t)
	f.intent.cancel = func() (string, error) { return "0xcancel", nil }

	cancelled, err := f.client.Cancel(context.Background(), order.ID, f.signer)
	require.NoError(t, err)
	require.Equal(t, types.IntentCancelled, cancelled.Status)
	require.Equal(t, "0xcancel", cancelled.CancelTxHash)

	_, err = f.client.Cancel(context.Background(), order.ID, f.signer)
	require.True(t, IsOrderNotCancellable(err))
}

func TestCancelLosesRaceToSolver(t *testing.T) {
	f := newFixture(t)
	order := f.swap(t)
	f.solver.set("task-1", solver.StatusResponse{Status: solver.StatusSolved, TxHash: "0xfill"})
	f.intent.cancel = func() (string, error) {
		return "0xcancel", &OrderNotCancellableError{OrderID: "7", Reason: "cancel reverted"}
	}

	got, err := f.client.Cancel(context.Background(), order.ID, f.signer)
	require.True(t, IsOrderNotCancellable(err))
	require.Equal(t, types.IntentPending, got.Status)

	require.NoError(t, f.poller.Run(context.Background()))
	final, err := f.client.Get(order.ID)
	require.NoError(t, err)
	require.Equal(t, types.IntentSuccess, final.Status)
	require.Equal(t, "0xfill", final.SolverTxHash)
	require.Empty(t, final.CancelTxHash)
}

func TestFillDuringCancelKeepsSuccess(t *testing.T) {
	f := newFixture(t)
	order := f.swap(t)
	f.solver.set("task-1", solver.StatusResponse{Status: solver.StatusSolved, TxHash: "0xfill"})
	f.intent.cancel = func() (string, error) {
		require.NoError(t, f.poller.Run(context.Background()))
		return "0xcancel", nil
	}

	got, err := f.client.Cancel(context.Background(), order.ID, f.signer)
	require.NoError(t, err)
	require.Equal(t, types.IntentSuccess, got.Status)

	var terminal int
	for _, o := range f.notes.intents {
		if o.Status.IsTerminal() {
			terminal++
		}
	}
	require.Equal(t, 1, terminal)
}

func TestPollerSettlesFinishedOrders(t *testing.T) {
	f := newFixture(t)
	solved := f.swap(t)

	require.Empty(t, solved.Executor)

	executor := "0x00000000000000000000000000000000000000e1"
	f.solver.set("task-1", solver.StatusResponse{Status: solver.StatusInProgress, Executor: executor})
	require.NoError(t, f.poller.Run(context.Background()))
	o, err := f.client.Get(solved.ID)
	require.NoError(t, err)
	require.Equal(t, types.IntentPending, o.Status)
	require.Equal(t, executor, o.Executor)

	f.solver.set("task-1", solver.StatusResponse{Status: solver.StatusSolved, TxHash: "0xfill", Executor: executor})
	require.NoError(t, f.poller.Run(context.Background()))
	o, err = f.client.Get(solved.ID)
	require.NoError(t, err)
	require.Equal(t, types.IntentSuccess, o.Status)
	require.Equal(t, executor, o.Executor)
	require.Equal(t, "0xfill", o.SolverTxHash)
	require.Empty(t, f.intents.ListPollable())

	failed := f.swap(t)
	f.solver.set("task-1", solver.StatusResponse{Status: solver.StatusFailed})
	require.NoError(t, f.poller.Run(context.Background()))
	o, err = f.client.Get(failed.ID)
	require.NoError(t, err)
	require.Equal(t, types.IntentFailure, o.Status)
	require.Empty(t, o.Executor)
	require.Empty(t, f.intents.ListPollable())

	require.Equal(t, "intent", f.poller.Name())
	require.Equal(t, time.Second, f.poller.Interval())
}

func TestPollerIgnoresSolverErrors(t *testing.T) {
	f := newFixture(t)
	order := f.swap(t)

	require.NoError(t, f.poller.Run(context.Background()))
	o, err := f.client.Get(order.ID)
	require.NoError(t, err)
	require.Equal(t, types.IntentPending, o.Status)
}

// later moves the poller's clock past the resume delay.
func (f *fixture) later() {
	f.poller.now = func() time.Time { return time.Now().Add(2 * DefaultResumeAfter) }
}

func TestPollerResumesOrderWithUnconfirmedCreate(t *testing.T) {
	f := newFixture(t)
	f.src.DropReceipt("0xorder")

	order, err := f.client.Swap(context.Background(), SwapRequest{
		SrcChainID: arb, DstChainID: "sui", FromToken: "0xaa", ToToken: "SUI",
		Amount: big.NewInt(1000), DestinationAddress: "0xbeef", Signer: f.signer,
	})
	require.Error(t, err)
	require.Equal(t, types.IntentPending, order.Status)
	require.True(t, order.OrderID.IsZero())

	// too recent: the creating Swap call may still be running
	require.NoError(t, f.poller.Run(context.Background()))
	require.Empty(t, f.solver.executed)

	// still unconfirmed: nothing changes
	f.later()
	require.NoError(t, f.poller.Run(context.Background()))
	o, err := f.client.Get(order.ID)
	require.NoError(t, err)
	require.True(t, o.OrderID.IsZero())
	require.Empty(t, f.solver.executed)

	f.src.SetReceipt("0xorder", "1", 12)
	require.NoError(t, f.poller.Run(context.Background()))
	o, err = f.client.Get(order.ID)
	require.NoError(t, err)
	require.Equal(t, types.IntentPending, o.Status)
	require.Equal(t, "7", o.OrderID.String())
	require.Equal(t, "task-1", o.TaskID)
	require.Equal(t, []solver.ExecuteRequest{{IntentTxHash: "0xorder", QuoteID: "quote-1"}}, f.solver.executed)

	f.intent.cancel = func() (string, error) { return "0xcancel", nil }
	cancelled, err := f.client.Cancel(context.Background(), order.ID, f.signer)
	require.NoError(t, err)
	require.Equal(t, types.IntentCancelled, cancelled.Status)
}

func TestPollerResumesOrderAfterReadFailure(t *testing.T) {
	f := newFixture(t)
	f.intent.getErr = errors.New("rpc timeout")

	order, err := f.client.Swap(context.Background(), SwapRequest{
		SrcChainID: arb, DstChainID: "sui", FromToken: "0xaa", ToToken: "SUI",
		Amount: big.NewInt(1000), DestinationAddress: "0xbeef", Signer: f.signer,
	})
	require.Error(t, err)
	require.True(t, order.OrderID.IsZero())

	f.later()
	require.NoError(t, f.poller.Run(context.Background()))
	o, err := f.client.Get(order.ID)
	require.NoError(t, err)
	require.True(t, o.OrderID.IsZero())
	require.Empty(t, o.TaskID)

	f.intent.getErr = nil
	require.NoError(t, f.poller.Run(context.Background()))
	o, err = f.client.Get(order.ID)
	require.NoError(t, err)
	require.Equal(t, "7", o.OrderID.String())
	require.Equal(t, "task-1", o.TaskID)
}

func TestPollerResumesOrderWithoutTask(t *testing.T) {
	f := newFixture(t)
	f.solver.executeErr = errors.New("connection refused")
	order, err := f.client.Swap(context.Background(), SwapRequest{
		SrcChainID: arb, DstChainID: "sui", FromToken: "0xaa", ToToken: "SUI",
		Amount: big.NewInt(1000), DestinationAddress: "0xbeef", Signer: f.signer,
	})
	require.Error(t, err)
	require.Equal(t, "7", order.OrderID.String())

	f.solver.executeErr = nil
	f.later()
	require.NoError(t, f.poller.Run(context.Background()))
	o, err := f.client.Get(order.ID)
	require.NoError(t, err)
	require.Equal(t, "task-1", o.TaskID)
	require.Len(t, f.solver.executed, 2)
}

func TestResumeRevertedCreateFails(t *testing.T) {
	f := newFixture(t)
	f.src.DropReceipt("0xorder")
	order, err := f.client.Swap(context.Background(), SwapRequest{
		SrcChainID: arb, DstChainID: "sui", FromToken: "0xaa", ToToken: "SUI",
		Amount: big.NewInt(1000), DestinationAddress: "0xbeef", Signer: f.signer,
	})
	require.Error(t, err)

	f.src.SetReceipt("0xorder", "0", 12)
	o, err := f.client.Resume(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, types.IntentFailure, o.Status)
	require.Equal(t, "order transaction reverted", o.Error)
	require.Empty(t, f.solver.executed)
}
