package schema

import "time"

// OrderType restricts how an order may execute.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderRequest is the outbound submission to the exchange client.
type OrderRequest struct {
	IdempotencyKey string    `json:"idempotencyKey"`
	Symbol         string    `json:"symbol"`
	Side           Side      `json:"side"`
	Type           OrderType `json:"type"`
	Size           float64   `json:"size"`  // base units
	Price          float64   `json:"price"` // limit price cap, 0 for market
	ReduceOnly     bool      `json:"reduceOnly"`
}

// AckStatus is the exchange response category for a submission.
type AckStatus string

const (
	AckAccepted AckStatus = "accepted"
	AckRejected AckStatus = "rejected"
)

// OrderAck is the exchange acknowledgment of a submission.
type OrderAck struct {
	IdempotencyKey string    `json:"idempotencyKey"`
	ExchangeID     string    `json:"exchangeId"`
	Status         AckStatus `json:"status"`
	Detail         string    `json:"detail,omitempty"`
	Ts             time.Time `json:"ts"`
}

// Fill is a (possibly partial) execution confirmation.
type Fill struct {
	IdempotencyKey string    `json:"idempotencyKey"`
	ExchangeID     string    `json:"exchangeId"`
	Symbol         string    `json:"symbol"`
	Side           Side      `json:"side"`
	Price          float64   `json:"price"`
	Size           float64   `json:"size"` // base units filled in this event
	ReduceOnly     bool      `json:"reduceOnly"`
	Ts             time.Time `json:"ts"`
}
