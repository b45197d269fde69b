// Package domain contains call entities without transport logic, just meta-data.
package domain

import "errors"

// MaxCallIDLen bounds registry keys; ids are otherwise opaque.
const MaxCallIDLen = 4096

var (
	ErrCallIDEmpty   = errors.New("call id empty")
	ErrCallIDTooLong = errors.New("call id too long")
)

// CallID is the opaque identity the signaling peer assigns to one telephone call.
type CallID string

func (id CallID) Validate() error {
	if len(id) == 0 {
		return ErrCallIDEmpty
	}
	if len(id) > MaxCallIDLen {
		return ErrCallIDTooLong
	}
	return nil
}

func (id CallID) String() string { return string(id) }

type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

// SessionDescription is what the media transport negotiates with, per call.
type SessionDescription struct {
	CallID CallID
	Type   SDPType
	SDP    string
}
