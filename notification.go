package main

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainbill/invoicenode/ledger"
	"github.com/chainbill/invoicenode/pkg/log"
	"github.com/chainbill/invoicenode/pkg/rpc"
)

var _ ledger.EventSink = &WSNotifier{}

// WSNotifier pushes committed ledger events to the connections subscribed
// as one of the event's parties.
type WSNotifier struct {
	notify func(userID string, method string, params rpc.Params)
	logger log.Logger
}

func NewWSNotifier(notifyFunc func(userID string, method string, params rpc.Params), logger log.Logger) *WSNotifier {
	return &WSNotifier{
		notify: notifyFunc,
		logger: logger.WithName("notifier"),
	}
}

func (n *WSNotifier) Publish(events ...ledger.Event) {
	for _, ev := range events {
		notification, err := toLedgerEvent(ev)
		if err != nil {
			n.logger.Error("failed to encode ledger event", "event", ev.Name, "error", err)
			continue
		}
		params, err := rpc.NewParams(rpc.LedgerUpdateNotification(notification))
		if err != nil {
			n.logger.Error("failed to encode ledger event", "event", ev.Name, "error", err)
			continue
		}

		for _, party := range uniqueParties(ev.Parties) {
			n.notify(party.Hex(), rpc.LedgerUpdateEvent.String(), params)
			n.logger.Debug("ledger update sent", "userID", party.Hex(), "event", ev.Name, "invoiceID", ev.InvoiceID)
		}
	}
}

func toLedgerEvent(ev ledger.Event) (rpc.LedgerEvent, error) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return rpc.LedgerEvent{}, err
	}

	return rpc.LedgerEvent{
		ID:        ev.ID,
		Name:      ev.Name.String(),
		InvoiceID: ev.InvoiceID,
		Data:      data,
		CreatedAt: ev.CreatedAt,
	}, nil
}

func uniqueParties(parties []common.Address) []common.Address {
	seen := make(map[common.Address]bool, len(parties))
	unique := make([]common.Address, 0, len(parties))
	for _, party := range parties {
		if party == (common.Address{}) || seen[party] {
			continue
		}
		seen[party] = true
		unique = append(unique, party)
	}
	return unique
}
