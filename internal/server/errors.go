package server

import "errors"

var (
	ErrAccept  = errors.New("accept failed")
	ErrReceive = errors.New("receive failed")
)
