// Package beacon is the client-side data and access layer for the beacon
// social platform: payment-gated writes over the x402 protocol backed by
// Solana transfers, a reusable payment proof cache, a realtime feed
// channel with polling fallback, and batched, deduplicated reads.
//
// The packages compose around one beacon.Client per user session:
//
//	payments — builds, signs and confirms the on-chain payment
//	feed     — live feed state machine (SSE/WebSocket, backoff, polling)
//	store    — TTL caches, single-flight loads, micro-batching
//	api      — thin HTTP client for the backend read endpoints
package beacon
