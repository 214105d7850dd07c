// Package fix provides byte-level scanning of FIX tag=value messages.
// It extracts only the handful of header fields the gateway needs to
// index, replay and identify sessions; it never validates full message
// semantics.
package fix

// SOH delimits FIX fields.
const SOH = byte(0x01)

// Header tags used by the recording and replay pipeline.
const (
	TagBeginSeqNo       = 7
	TagBeginString      = 8
	TagBodyLength       = 9
	TagCheckSum         = 10
	TagEndSeqNo         = 16
	TagMsgSeqNum        = 34
	TagMsgType          = 35
	TagPossDupFlag      = 43
	TagSenderCompID     = 49
	TagSenderSubID      = 50
	TagSendingTime      = 52
	TagTargetCompID     = 56
	TagTargetSubID      = 57
	TagOrigSendingTime  = 122
	TagSenderLocationID = 142
	TagTargetLocationID = 143
)

// Message types the core dispatches on.
const (
	MsgTypeLogon         = "A"
	MsgTypeResendRequest = "2"
)

// NoEntry marks a field offset that was not present in the scanned bytes.
const NoEntry = -1
