package transport

import (
	"fmt"
	"strconv"
)

// GroupKey renders the target as the opaque string key used by the ledger.
func (t ChatTarget) GroupKey() string {
	return strconv.FormatInt(t.ChatID, 10)
}

// ParseGroupKey recovers a ChatTarget from a ledger group key.
func ParseGroupKey(key string) (ChatTarget, error) {
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return ChatTarget{}, fmt.Errorf("bad group key %q: %w", key, err)
	}
	return ChatTarget{ChatID: id}, nil
}
