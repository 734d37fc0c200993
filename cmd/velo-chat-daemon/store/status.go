package store

import "velo-chat-daemon/cmd/velo-chat-daemon/core/types"

// statusRank orders the delivery lifecycle. failed sits outside the
// ordering: it is reachable only from sending/sent and a later
// DELIVERY_CONFIRM never supersedes it, while READ_RECEIPT does.
func statusRank(s types.MessageStatus) int {
	switch s {
	case types.StatusSending:
		return 0
	case types.StatusSent:
		return 1
	case types.StatusDelivered:
		return 2
	case types.StatusRead:
		return 3
	default:
		return -1
	}
}

// canConfirmDelivery reports whether a DELIVERY_CONFIRM may advance cur.
func canConfirmDelivery(cur types.MessageStatus) bool {
	return cur == types.StatusSending || cur == types.StatusSent
}
