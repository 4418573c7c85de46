package stn

import (
	"fmt"

	"github.com/google/uuid"
)

// Begin opens a transaction and returns its id. Transactions nest LIFO: an
// inner transaction must be committed or rolled back before its parent.
func (n *Network) Begin() TxID {
	sp := &savepoint{id: uuid.New(), points: len(n.names)}
	n.txs = append(n.txs, sp)
	return sp.id
}

// Commit closes the innermost transaction. Its mutations are folded into the
// parent transaction when one exists, so a later parent rollback still
// undoes them.
func (n *Network) Commit(id TxID) error {
	top, err := n.top(id)
	if err != nil {
		return err
	}
	n.txs = n.txs[:len(n.txs)-1]
	if len(n.txs) > 0 {
		parent := n.txs[len(n.txs)-1]
		parent.undo = append(parent.undo, top.undo...)
	}
	return nil
}

// Rollback undoes every mutation made since the transaction was opened,
// including removal of points added inside it. The network is left
// byte-for-byte equivalent to its state at Begin.
func (n *Network) Rollback(id TxID) error {
	top, err := n.top(id)
	if err != nil {
		return err
	}
	n.applyUndo(top.undo)
	if len(n.names) > top.points {
		for p := top.points; p < len(n.names); p++ {
			delete(n.out, Point(p))
		}
		n.names = n.names[:top.points]
		n.dirty = true
	}
	n.txs = n.txs[:len(n.txs)-1]
	return nil
}

// InTx reports whether a transaction is open.
func (n *Network) InTx() bool { return len(n.txs) > 0 }

func (n *Network) top(id TxID) (*savepoint, error) {
	if len(n.txs) == 0 {
		return nil, fmt.Errorf("no open transaction")
	}
	top := n.txs[len(n.txs)-1]
	if top.id != id {
		return nil, fmt.Errorf("transaction %s is not innermost", id)
	}
	return top, nil
}
