package store

import "errors"

var (
	ErrAppend  = errors.New("append to store failed")
	ErrReplay  = errors.New("replay from store failed")
	ErrDeliver = errors.New("replay delivery failed")
	ErrRemove  = errors.New("remove store failed")
)
