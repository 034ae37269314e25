package ir

import (
	"fmt"
	"strconv"
)

// Kind classifies an interaction record.
type Kind string

const (
	KindText         Kind = "text"
	KindCall         Kind = "call"
	KindContactEvent Kind = "contact"
	KindFileTransfer Kind = "data_transfer"
)

// ValidKinds lists the accepted record kinds.
var ValidKinds = map[Kind]bool{
	KindText:         true,
	KindCall:         true,
	KindContactEvent: true,
	KindFileTransfer: true,
}

// Status is the delivery or transfer state of a record.
type Status string

const (
	StatusUnknown              Status = "unknown"
	StatusSending              Status = "sending"
	StatusSuccess              Status = "success"
	StatusFailure              Status = "failure"
	StatusDisplayed            Status = "displayed"
	StatusTransferCreated      Status = "transfer_created"
	StatusTransferAwaitingPeer Status = "transfer_awaiting_peer"
	StatusTransferAwaitingHost Status = "transfer_awaiting_host"
	StatusTransferOngoing      Status = "transfer_ongoing"
	StatusTransferFinished     Status = "transfer_finished"
	StatusTransferCanceled     Status = "transfer_canceled"
	StatusTransferError        Status = "transfer_error"
)

// ValidStatuses lists the accepted record statuses.
var ValidStatuses = map[Status]bool{
	StatusUnknown:              true,
	StatusSending:              true,
	StatusSuccess:              true,
	StatusFailure:              true,
	StatusDisplayed:            true,
	StatusTransferCreated:      true,
	StatusTransferAwaitingPeer: true,
	StatusTransferAwaitingHost: true,
	StatusTransferOngoing:      true,
	StatusTransferFinished:     true,
	StatusTransferCanceled:     true,
	StatusTransferError:        true,
}

// IsTransfer reports whether the status belongs to the file transfer lifecycle.
func (s Status) IsTransfer() bool {
	switch s {
	case StatusTransferCreated, StatusTransferAwaitingPeer, StatusTransferAwaitingHost,
		StatusTransferOngoing, StatusTransferFinished, StatusTransferCanceled, StatusTransferError:
		return true
	}
	return false
}

// Mode is the conversation classification tag.
//
// Only ModeLegacy changes behavior: it selects timestamp ordering when a
// conversation is constructed. Every other mode uses causal ordering.
type Mode string

const (
	ModeOneToOne         Mode = "one_to_one"
	ModeAdminInvitesOnly Mode = "admin_invites_only"
	ModeInvitesOnly      Mode = "invites_only"
	ModeSyncing          Mode = "syncing"
	ModePublic           Mode = "public"
	ModeLegacy           Mode = "legacy"
)

// ValidModes lists the accepted conversation modes.
var ValidModes = map[Mode]bool{
	ModeOneToOne:         true,
	ModeAdminInvitesOnly: true,
	ModeInvitesOnly:      true,
	ModeSyncing:          true,
	ModePublic:           true,
	ModeLegacy:           true,
}

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !ValidModes[m] {
		return "", fmt.Errorf("unknown conversation mode %q", s)
	}
	return m, nil
}

// Record is one message, call log entry, contact event or file transfer.
//
// Swarm records are identified by MessageID and may point at a causal
// parent through ParentID. Legacy records are identified by ID and ordered
// by Timestamp alone.
type Record struct {
	ID           int64    `json:"id,omitempty"`
	MessageID    string   `json:"message_id,omitempty"`
	ParentID     string   `json:"parent_id,omitempty"`
	Timestamp    int64    `json:"timestamp"` // unix milliseconds
	Author       string   `json:"author,omitempty"`
	Kind         Kind     `json:"kind"`
	Status       Status   `json:"status"`
	Body         IRObject `json:"body,omitempty"`
	Contact      string   `json:"contact,omitempty"`
	Read         bool     `json:"read,omitempty"`
	Synthetic    bool     `json:"synthetic,omitempty"`
	Seq          int64    `json:"seq,omitempty"`
	Conversation string   `json:"conversation,omitempty"`
}

// Identity returns the key a record is indexed under: the message id when
// present, otherwise the decimal legacy id.
func (r *Record) Identity() string {
	if r.MessageID != "" {
		return r.MessageID
	}
	return strconv.FormatInt(r.ID, 10)
}

// IsIncoming reports whether the record was authored by someone other than self.
func (r *Record) IsIncoming(self string) bool {
	return r.Author != "" && r.Author != self
}

// Validate checks structural constraints before a record enters a store.
func (r *Record) Validate() error {
	if r.MessageID == "" && r.ID == 0 {
		return fmt.Errorf("record has neither message id nor legacy id")
	}
	if r.ParentID != "" && r.ParentID == r.MessageID {
		return fmt.Errorf("record %s is its own parent", r.MessageID)
	}
	if !ValidKinds[r.Kind] {
		return fmt.Errorf("record %s: unknown kind %q", r.Identity(), r.Kind)
	}
	if !ValidStatuses[r.Status] {
		return fmt.Errorf("record %s: unknown status %q", r.Identity(), r.Status)
	}
	return nil
}

// Patch is a status update addressed to an existing record.
//
// Timestamp is only consulted in legacy mode, where records are located
// through their timestamp bucket.
type Patch struct {
	Identity  string `json:"identity"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Status    Status `json:"status"`
}

// ConversationRef names an archived conversation and the mode it was
// opened with.
type ConversationRef struct {
	Account      string `json:"account"`
	Conversation string `json:"conversation"`
	Mode         Mode   `json:"mode"`
}
