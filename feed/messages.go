package feed

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message kinds carried on the push channel.
const (
	kindConnected   = "connected"
	kindPing        = "ping"
	kindSnapshot    = "snapshot"
	kindItemAdded   = "item_added"
	kindItemUpdated = "item_updated"
	kindFullRefresh = "full_refresh"
)

// ErrUnknownType marks a message whose discriminator the client does not
// recognize. Such messages are dropped, never applied.
var ErrUnknownType = errors.New("unknown feed message type")

// Message is one decoded feed delta. Exactly one of the concrete variants
// below is produced per wire message.
type Message interface {
	kind() string
}

// Connected announces the server-assigned connection id. No data change.
type Connected struct {
	ID string
}

// Ping is a keepalive with the server's clock.
type Ping struct {
	Timestamp int64
}

// Snapshot is the initial batch: the full feed list, newest first.
type Snapshot struct {
	Items      []Item
	Pagination *Pagination
}

// ItemAdded delivers one new item to prepend.
type ItemAdded struct {
	Item Item
}

// ItemUpdated delivers a replacement for an existing item, matched by id.
type ItemUpdated struct {
	Item Item
}

// FullRefresh is a wholesale list replacement, poll-driven or periodic.
type FullRefresh struct {
	Items      []Item
	Pagination *Pagination
}

func (Connected) kind() string   { return kindConnected }
func (Ping) kind() string        { return kindPing }
func (Snapshot) kind() string    { return kindSnapshot }
func (ItemAdded) kind() string   { return kindItemAdded }
func (ItemUpdated) kind() string { return kindItemUpdated }
func (FullRefresh) kind() string { return kindFullRefresh }

// Pagination mirrors the server's paging block.
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

// listPayload is the data block of snapshot and full_refresh messages.
type listPayload struct {
	Items      []Item      `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

// Decode parses one wire message into its tagged variant. Unknown
// discriminators yield ErrUnknownType.
func Decode(data []byte) (Message, error) {
	var envelope struct {
		Type      string          `json:"type"`
		ID        string          `json:"id"`
		Timestamp int64           `json:"timestamp"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("parse feed message: %w", err)
	}

	switch envelope.Type {
	case kindConnected:
		return &Connected{ID: envelope.ID}, nil

	case kindPing:
		return &Ping{Timestamp: envelope.Timestamp}, nil

	case kindSnapshot, kindFullRefresh:
		var payload listPayload
		if len(envelope.Data) > 0 {
			if err := json.Unmarshal(envelope.Data, &payload); err != nil {
				return nil, fmt.Errorf("parse %s payload: %w", envelope.Type, err)
			}
		}
		if envelope.Type == kindSnapshot {
			return &Snapshot{Items: payload.Items, Pagination: payload.Pagination}, nil
		}
		return &FullRefresh{Items: payload.Items, Pagination: payload.Pagination}, nil

	case kindItemAdded, kindItemUpdated:
		var item Item
		if err := json.Unmarshal(envelope.Data, &item); err != nil {
			return nil, fmt.Errorf("parse %s payload: %w", envelope.Type, err)
		}
		if envelope.Type == kindItemAdded {
			return &ItemAdded{Item: item}, nil
		}
		return &ItemUpdated{Item: item}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, envelope.Type)
	}
}
