package protocol

import "simplemounts.ai/internal/mounterr"

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrUnknownOp       = "E_UNKNOWN_OP"

	// Host controls and unexpected failures.
	ErrBadRequest = "E_BAD_REQUEST"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrUnknownOp:       {},
	ErrBadRequest:      {},
	ErrInternal:        {},
}

// IsKnownCode reports whether code may appear in a RES or NOTICE. Lifecycle result codes
// pass through unchanged.
func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	if _, ok := knownCodes[code]; ok {
		return true
	}
	return mounterr.IsKnownCode(mounterr.Code(code)) || isNoticeCode(code)
}

// Notice codes.
const (
	NoticeDistanceWarning = "DISTANCE_WARNING"
	NoticeDistanceCleared = "DISTANCE_CLEARED"
	NoticeAutoStored      = "AUTO_STORED"
	NoticeStoreFailed     = "STORE_FAILED"
	NoticeMountDied       = "MOUNT_DIED"
)

func isNoticeCode(code string) bool {
	switch code {
	case NoticeDistanceWarning, NoticeDistanceCleared, NoticeAutoStored, NoticeStoreFailed, NoticeMountDied:
		return true
	}
	return false
}
