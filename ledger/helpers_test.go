package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/chainbill/invoicenode/chain"
	"github.com/chainbill/invoicenode/internal/testdb"
)

var (
	adminAddr     = common.HexToAddress("0x000000000000000000000000000000000000aD01")
	contractAddr  = common.HexToAddress("0x00000000000000000000000000000000C0FFEE00")
	issuerAddr    = common.HexToAddress("0x0000000000000000000000000000000000001551")
	recipientAddr = common.HexToAddress("0x000000000000000000000000000000000000AEC1")
	strangerAddr  = common.HexToAddress("0x0000000000000000000000000000000000057A9E")
	resolverAddr  = common.HexToAddress("0x000000000000000000000000000000000000AE50")
	collectorAddr = common.HexToAddress("0x000000000000000000000000000000000000FEE5")
	tokenAddr     = common.HexToAddress("0x00000000000000000000000000000000000070C1")
)

var genesis = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// eth converts whole coins to the smallest unit.
func eth(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Shift(18)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Publish(events ...Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
}

func (s *recordingSink) Names() []EventName {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]EventName, len(s.events))
	for i, ev := range s.events {
		names[i] = ev.Name
	}
	return names
}

func (s *recordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

type testEnv struct {
	ctx    context.Context
	clock  *testClock
	host   *chain.Host
	bank   *chain.Bank
	tokens *chain.TokenBook
	sink   *recordingSink
	ledger *InvoiceLedger
}

type envOption func(*envConfig)

type envConfig struct {
	policy       Policy
	disputeFee   decimal.Decimal
	feeCollector common.Address
}

func withPolicy(p Policy) envOption {
	return func(c *envConfig) { c.policy = p }
}

func withDisputeFee(fee decimal.Decimal) envOption {
	return func(c *envConfig) { c.disputeFee = fee }
}

func setupLedger(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := envConfig{disputeFee: eth(0.01), feeCollector: collectorAddr}
	for _, opt := range opts {
		opt(&cfg)
	}

	models := append(chain.Models(), Models()...)
	db := testdb.Open(t, models...)

	clock := &testClock{now: genesis}
	host := chain.NewHost(db, clock)
	bank := chain.NewBank(host)
	tokens := chain.NewTokenBook(host)
	sink := &recordingSink{}

	policy := cfg.policy
	if policy == nil {
		policy = NewRegistryPolicy(host)
	}

	l := New(host, bank, func(addr common.Address) Token { return tokens.Token(addr) }, policy, sink, nil)
	deployed, err := l.Deploy(context.Background(), DeployConfig{
		Admin:        adminAddr,
		Contract:     contractAddr,
		FeeCollector: cfg.feeCollector,
		DisputeFee:   cfg.disputeFee,
	})
	require.NoError(t, err)
	require.True(t, deployed)

	ctx := context.Background()
	for _, addr := range []common.Address{issuerAddr, recipientAddr, strangerAddr} {
		require.NoError(t, bank.Mint(ctx, addr, eth(100)))
	}

	return &testEnv{
		ctx:    ctx,
		clock:  clock,
		host:   host,
		bank:   bank,
		tokens: tokens,
		sink:   sink,
		ledger: l,
	}
}

func (e *testEnv) balance(t *testing.T, addr common.Address) decimal.Decimal {
	t.Helper()
	bal, err := e.bank.Balance(e.ctx, addr)
	require.NoError(t, err)
	return bal
}

func (e *testEnv) tokenBalance(t *testing.T, addr common.Address) decimal.Decimal {
	t.Helper()
	bal, err := e.tokens.Token(tokenAddr).BalanceOf(e.ctx, addr)
	require.NoError(t, err)
	return bal
}

func (e *testEnv) nativeInvoice(amount decimal.Decimal) CreateInvoiceParams {
	return CreateInvoiceParams{
		ContentRef:  "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi",
		Recipient:   recipientAddr,
		Amount:      amount,
		Asset:       NativeCoin(),
		DueDate:     e.clock.Now().Add(24 * time.Hour),
		Description: "consulting, february",
	}
}

func (e *testEnv) tokenInvoice(amount decimal.Decimal) CreateInvoiceParams {
	p := e.nativeInvoice(amount)
	p.Asset = TokenAsset(tokenAddr)
	return p
}

func (e *testEnv) create(t *testing.T, p CreateInvoiceParams) uint64 {
	t.Helper()
	id, err := e.ledger.CreateInvoice(e.ctx, Call{From: issuerAddr}, p)
	require.NoError(t, err)
	return id
}

func (e *testEnv) invoice(t *testing.T, id uint64) Invoice {
	t.Helper()
	inv, err := e.ledger.GetInvoice(e.ctx, id)
	require.NoError(t, err)
	return inv
}

func assertDecimal(t *testing.T, expected, actual decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Truef(t, expected.Equal(actual), "expected %s, got %s %v", expected, actual, msgAndArgs)
}

type mockPolicy struct {
	mock.Mock
}

func (m *mockPolicy) IsAdmin(ctx context.Context, addr common.Address) (bool, error) {
	args := m.Called(ctx, addr)
	return args.Bool(0), args.Error(1)
}

func (m *mockPolicy) CanResolve(ctx context.Context, addr common.Address) (bool, error) {
	args := m.Called(ctx, addr)
	return args.Bool(0), args.Error(1)
}
