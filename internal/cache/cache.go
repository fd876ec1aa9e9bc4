// Package cache keeps held sales in Redis so suspended carts survive a
// process restart and are shared by every instance serving a branch.
package cache

import (
	"fmt"
	"strings"
)

const (
	heldKeyPrefix   = "held:sale:"
	heldIndexPrefix = "held:idx:"
)

// heldKey is scoped by branch so a pop from another branch misses.
func heldKey(branchID string, id string) string {
	return fmt.Sprintf("%s%s:%s", heldKeyPrefix, strings.ToLower(branchID), id)
}

func heldIndexKey(branchID string, terminalID string) string {
	return fmt.Sprintf("%s%s:%s", heldIndexPrefix, strings.ToLower(branchID), strings.ToLower(terminalID))
}
