// Package api exposes the read-only HTTP surface of the treasury daemon:
// a health probe and a status endpoint reporting pool balances, pending
// burn state and the active listing count.
package api
