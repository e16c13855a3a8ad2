package engine

import (
	"github.com/cuemby/corestore/pkg/ids"
	"github.com/cuemby/corestore/pkg/record"
	"github.com/cuemby/corestore/pkg/txnlog"
)

// SinkRecord is one logical write a committed transaction made, resolved
// to the object it names. Object is the zero value for a remove.
type SinkRecord struct {
	Locator ids.Locator
	Op      txnlog.Op
	Object  record.Record
}

// Sink is the optional persistence hook driven from the commit path
// (spec.md §6: "accepting a sealed txn log at commit, logical records
// only"). Accept is called synchronously after a transaction has already
// committed in memory; an error does not undo the commit, only logs a
// durability warning.
type Sink interface {
	Accept(commitTS ids.TxnID, records []SinkRecord) error
}
