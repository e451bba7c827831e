// Package core holds the custody ledger domain: balances, withdrawal locks,
// nonce windows, agent authorization and the service that applies them
// atomically. Storage, transfer and transport adapters depend on this
// package; core depends only on identity.
package core
