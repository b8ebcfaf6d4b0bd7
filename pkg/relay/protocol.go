// Package relay implements the per-connection session protocol: handshake,
// history replay, the inbound/outbound loop pair, and the delivery-status
// pipeline between them.
//
// The wire protocol is deliberately minimal and line-oriented. Inbound text
// frames carry "<recipient>:<body>"; outbound frames are relayed
// "<sender>: <body>" lines, "System: ..." notices, or history markers.
package relay

import "strings"

const (
	historyStartMarker = "--- Message History ---"
	historyEndMarker   = "--- End of History ---"
)

func conversationMarker(identity string) string {
	return "--- Conversation with " + identity + " ---"
}

func systemNotice(text string) string {
	return "System: " + text
}

func unknownRecipientNotice(identity string) string {
	return systemNotice("User '" + identity + "' does not exist")
}

// parseFrame splits an inbound frame on the first delimiter. Frames
// without a delimiter are malformed and get dropped by the caller.
func parseFrame(frame string) (recipient, body string, ok bool) {
	i := strings.Index(frame, ":")
	if i < 0 {
		return "", "", false
	}
	return frame[:i], frame[i+1:], true
}
