// Package account names the per-owner namespaces every ledger is keyed by.
package account

import (
	"fmt"
	"strings"
)

// Key identifies one owner on one network. Address is always lowercased so
// checksum and plain hex forms of the same wallet share a record.
type Key struct {
	NetworkID int64  `json:"network_id" db:"network_id"`
	Address   string `json:"address" db:"owner"`
}

// NewKey normalises an address into a Key.
func NewKey(networkID int64, address string) Key {
	return Key{NetworkID: networkID, Address: NormalizeAddress(address)}
}

// NormalizeAddress trims and lowercases a hex address.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Empty reports whether no owner is attached to the key.
func (k Key) Empty() bool {
	return k.Address == ""
}

// String renders the "<network>:<address>" storage key.
func (k Key) String() string {
	return fmt.Sprintf("%d:%s", k.NetworkID, k.Address)
}

// Slot names the pet save slot for this owner.
func (k Key) Slot() string {
	owner := k.Address
	if owner == "" {
		owner = "none"
	}
	return fmt.Sprintf("wg-%d-%s", k.NetworkID, owner)
}
