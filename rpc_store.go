package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/chainbill/invoicenode/chain"
	"github.com/chainbill/invoicenode/pkg/rpc"
	"github.com/chainbill/invoicenode/pkg/sign"
)

// RPCRecord is one signed request and the node's signed answer to it.
type RPCRecord struct {
	ID        uint           `gorm:"primaryKey"`
	Sender    string         `gorm:"column:sender;type:varchar(255);not null;index:idx_rpc_store_sender_timestamp,priority:1"`
	ReqID     uint64         `gorm:"column:req_id;not null"`
	Method    string         `gorm:"column:method;type:varchar(255);not null"`
	Params    []byte         `gorm:"column:params;type:text;not null"`
	Timestamp uint64         `gorm:"column:timestamp;not null;index:idx_rpc_store_sender_timestamp,priority:2"`
	ReqSig    pq.StringArray `gorm:"type:text[];column:req_sig;"`
	Response  []byte         `gorm:"column:response;type:text;not null"`
	ResSig    pq.StringArray `gorm:"type:text[];column:res_sig;"`
}

func (RPCRecord) TableName() string {
	return "rpc_store"
}

// RPCStore keeps the audit trail of signed requests and their responses.
// It shares the ledger's host, so audit writes queue behind ledger calls
// instead of racing them for the database.
type RPCStore struct {
	host *chain.Host
}

func NewRPCStore(host *chain.Host) *RPCStore {
	return &RPCStore{host: host}
}

// StoreMessage records a request from sender together with the encoded
// response. Both signature sets are kept so the pair can be verified later.
func (s *RPCStore) StoreMessage(ctx context.Context, sender string, req rpc.Payload, reqSigs []sign.Signature, resBytes []byte, resSigs []sign.Signature) error {
	params, err := json.Marshal(req.Params)
	if err != nil {
		return fmt.Errorf("failed to encode params of %s: %w", req.Method, err)
	}

	rec := &RPCRecord{
		Sender:    sender,
		ReqID:     req.RequestID,
		Method:    req.Method,
		Params:    params,
		Timestamp: req.Timestamp,
		ReqSig:    sign.Strings(reqSigs),
		Response:  resBytes,
		ResSig:    sign.Strings(resSigs),
	}
	return s.host.Execute(ctx, func(_ context.Context, f *chain.Frame) error {
		return f.Tx().Create(rec).Error
	})
}

// GetRPCHistory pages through the records sent by sender, newest first
// unless options ask otherwise.
func (s *RPCStore) GetRPCHistory(ctx context.Context, sender string, options *rpc.ListOptions) ([]RPCRecord, error) {
	var records []RPCRecord
	err := s.host.View(ctx, func(tx *gorm.DB) error {
		return applyListOptions(tx.Where("sender = ?", sender), "timestamp", rpc.SortTypeDescending, options).
			Find(&records).Error
	})
	return records, err
}

func (r RPCRecord) toRPCEntry() rpc.RPCEntry {
	return rpc.RPCEntry{
		ID:        r.ID,
		Sender:    r.Sender,
		ReqID:     r.ReqID,
		Method:    r.Method,
		Params:    string(r.Params),
		Timestamp: r.Timestamp,
		ReqSig:    r.ReqSig,
		Result:    string(r.Response),
		ResSig:    r.ResSig,
	}
}
