package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Volume layer.
	ErrOutOfRange    = "E_OUT_OF_RANGE"
	ErrBatchTooLarge = "E_BATCH_TOO_LARGE"
	ErrUnknownOp     = "E_UNKNOWN_OP"
	ErrBusy          = "E_BUSY"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrOutOfRange:      {},
	ErrBatchTooLarge:   {},
	ErrUnknownOp:       {},
	ErrBusy:            {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
