package engine

import "errors"

var (
	ErrUnknownBook     = errors.New("unknown order book")
	ErrSameToken       = errors.New("token0 and token1 must differ")
	ErrZeroSize        = errors.New("invalid size")
	ErrZeroPrice       = errors.New("invalid price")
	ErrNotOwner        = errors.New("the caller should be the owner of the order")
	ErrBalanceMismatch = errors.New("contract balance change does not match the received amount")
	ErrOutOfSteps      = errors.New("call ran out of steps")
	ErrReentrantCall   = errors.New("reentrant call")
	ErrBatchLength     = errors.New("batch arrays shorter than count")
)
