// Package id generates prefixed identifiers for calls, turns, rooms and
// correlation tracking.
package id

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	PrefixCall        = "call"
	PrefixTurn        = "turn"
	PrefixRoom        = "room"
	PrefixCorrelation = "corr"
	PrefixConnection  = "conn"
)

// New returns a prefixed random identifier, e.g. "call_V1StGXR8Z5jdHi6BmyT".
func New(prefix string) string {
	return generate(prefix, 21)
}

func generate(prefix string, length int) string {
	id, err := gonanoid.New(length)
	if err != nil {
		return prefix + "_fallback"
	}
	return prefix + "_" + id
}

func NewCall() string {
	return New(PrefixCall)
}

func NewRoom() string {
	return New(PrefixRoom)
}

// NewCorrelation is shorter than the other IDs; correlation IDs appear on
// every log line of an execute.
func NewCorrelation() string {
	return generate(PrefixCorrelation, 12)
}

func NewConnection() string {
	return New(PrefixConnection)
}
