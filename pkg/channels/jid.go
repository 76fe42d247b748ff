package channels

import (
	"errors"
	"fmt"
	"strings"
)

// Network suffixes used in chat JIDs.
const (
	NetworkTelegram = "telegram"
	NetworkDiscord  = "discord"
)

var ErrInvalidJID = errors.New("invalid chat jid")

// FormatJID builds "<nativeID>@<network>".
func FormatJID(nativeID, network string) string {
	return nativeID + "@" + network
}

// ParseJID splits a chat JID at its last '@'. Native ids may themselves
// contain '@'; the network suffix may not.
func ParseJID(jid string) (nativeID, network string, err error) {
	i := strings.LastIndexByte(jid, '@')
	if i <= 0 || i == len(jid)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidJID, jid)
	}
	return jid[:i], jid[i+1:], nil
}
