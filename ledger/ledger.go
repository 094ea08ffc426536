package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/chainbill/invoicenode/chain"
	"github.com/chainbill/invoicenode/pkg/log"
)

// Host runs calls atomically. See chain.Host.
type Host interface {
	Viewer
	Execute(ctx context.Context, fn func(ctx context.Context, f *chain.Frame) error) error
}

// NativeBank moves native coin between accounts.
type NativeBank interface {
	Balance(ctx context.Context, addr common.Address) (decimal.Decimal, error)
	Transfer(ctx context.Context, from, to common.Address, amount decimal.Decimal) error
}

// Token is a fungible-token contract. TransferFrom reports false when the
// transfer is refused.
type Token interface {
	BalanceOf(ctx context.Context, owner common.Address) (decimal.Decimal, error)
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount decimal.Decimal) (bool, error)
}

// TokenResolver returns the token contract deployed at addr.
type TokenResolver func(addr common.Address) Token

// InvoiceLedger is the invoice, payment and dispute state machine.
type InvoiceLedger struct {
	host   Host
	bank   NativeBank
	tokens TokenResolver
	policy Policy
	sink   EventSink
	logger log.Logger

	onOperation []func(ctx context.Context, op string, err error)
}

// New assembles a ledger over host. The ledger holds no state of its own
// until Deploy has run. A nil sink drops events and a nil logger is
// replaced by a no-op one.
func New(host Host, bank NativeBank, tokens TokenResolver, policy Policy, sink EventSink, logger log.Logger) *InvoiceLedger {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &InvoiceLedger{
		host:   host,
		bank:   bank,
		tokens: tokens,
		policy: policy,
		sink:   sink,
		logger: logger.WithName("ledger"),
	}
}

// OnOperation registers a handler called after every state-changing
// operation with the caller's context and the outcome. A call made from
// inside another call passes a ctx that carries the outer frame.
func (l *InvoiceLedger) OnOperation(handler func(ctx context.Context, op string, err error)) {
	l.onOperation = append(l.onOperation, handler)
}

// DeployConfig holds the deployment time settings.
type DeployConfig struct {
	Admin common.Address
	// Contract is the account holding collected fees and escrowed dispute fees.
	Contract common.Address
	// FeeCollector receives the platform fee of token payments. Defaults to Admin.
	FeeCollector common.Address
	DisputeFee   decimal.Decimal
}

// Deploy initializes the parameters and authorizes the admin as resolver.
// Deploying an already deployed ledger leaves it untouched and reports false.
func (l *InvoiceLedger) Deploy(ctx context.Context, cfg DeployConfig) (bool, error) {
	if cfg.Admin == (common.Address{}) || cfg.Contract == (common.Address{}) {
		return false, ErrInvalidAddress
	}
	if cfg.FeeCollector == (common.Address{}) {
		cfg.FeeCollector = cfg.Admin
	}
	if !isNonNegativeInteger(cfg.DisputeFee) {
		return false, ErrInvalidFee
	}

	deployed := false
	err := l.host.Execute(ctx, func(ctx context.Context, f *chain.Frame) error {
		_, err := loadParams(f.Tx(), true)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotDeployed) {
			return err
		}

		rec := &ParamsRecord{
			ID:                  paramsRowID,
			NextInvoiceID:       1,
			DisputeFee:          cfg.DisputeFee,
			PlatformFeeBps:      DefaultPlatformFeeBps,
			EscrowedDisputeFees: decimal.Zero,
			Admin:               cfg.Admin.Hex(),
			Contract:            cfg.Contract.Hex(),
			FeeCollector:        cfg.FeeCollector.Hex(),
		}
		if err := f.Tx().Create(rec).Error; err != nil {
			return fmt.Errorf("failed to store ledger params: %w", err)
		}
		if err := setResolver(f.Tx(), cfg.Admin, true, f.BlockTime()); err != nil {
			return err
		}

		deployed = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if deployed {
		l.logger.Info("ledger deployed", "admin", cfg.Admin.Hex(), "contract", cfg.Contract.Hex(), "feeCollector", cfg.FeeCollector.Hex())
	}
	return deployed, nil
}

// callFrame is the state shared by the steps of one operation.
type callFrame struct {
	frame  *chain.Frame
	call   Call
	params Params
}

func (c *callFrame) tx() *gorm.DB {
	return c.frame.Tx()
}

func (c *callFrame) now() time.Time {
	return c.frame.BlockTime()
}

type opOptions struct {
	payable  bool
	pausable bool
}

// execute runs op as one call: it takes in the attached value, runs fn and
// reports the outcome. Events reach the sink after commit.
func (l *InvoiceLedger) execute(ctx context.Context, op string, call Call, opts opOptions, fn func(ctx context.Context, c *callFrame) error) error {
	err := l.host.Execute(ctx, func(ctx context.Context, f *chain.Frame) error {
		params, err := loadParams(f.Tx(), true)
		if err != nil {
			return err
		}
		if opts.pausable && params.Paused {
			return ErrPaused
		}

		c := &callFrame{frame: f, call: call, params: params}
		if err := l.takeValue(ctx, c, opts.payable); err != nil {
			return err
		}
		return fn(ctx, c)
	})

	if err != nil {
		l.logger.Debug("call rejected", "op", op, "from", call.From.Hex(), "kind", KindOf(err).String(), "error", err)
	} else {
		l.logger.Info("call committed", "op", op, "from", call.From.Hex())
	}
	for _, handler := range l.onOperation {
		handler(ctx, op, err)
	}
	return err
}

// takeValue moves the attached value from the caller to the contract.
func (l *InvoiceLedger) takeValue(ctx context.Context, c *callFrame, payable bool) error {
	value := c.call.Value
	if !isNonNegativeInteger(value) {
		return ErrInvalidValue
	}
	if value.IsZero() {
		return nil
	}
	if !payable {
		return ErrNotPayable
	}

	if err := l.bank.Transfer(ctx, c.call.From, c.params.Contract, value); err != nil {
		return ErrValueTransferFailed.because(err)
	}
	return nil
}

// emit stores an event right away so that event ids follow the order of
// the effects, nested calls included.
func (l *InvoiceLedger) emit(c *callFrame, name EventName, invoiceID uint64, data any, parties ...common.Address) error {
	ev := Event{
		Name:      name,
		InvoiceID: invoiceID,
		Data:      data,
		CreatedAt: c.now(),
		Parties:   parties,
	}
	if err := storeEvent(c.tx(), &ev); err != nil {
		return err
	}

	if l.sink != nil {
		c.frame.AfterCommit(func() { l.sink.Publish(ev) })
	}
	return nil
}

// splitFee returns floor(amount*bps/10000) and the remainder.
func splitFee(amount decimal.Decimal, bps uint32) (fee, net decimal.Decimal) {
	raw := new(big.Int).Mul(amount.BigInt(), new(big.Int).SetUint64(uint64(bps)))
	raw.Quo(raw, big.NewInt(bpsDenominator))

	fee = decimal.NewFromBigInt(raw, 0)
	return fee, amount.Sub(fee)
}

func isNonNegativeInteger(d decimal.Decimal) bool {
	return !d.IsNegative() && d.Equal(d.Truncate(0))
}

func isPositiveInteger(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Truncate(0))
}
