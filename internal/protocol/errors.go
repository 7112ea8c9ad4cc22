package protocol

// Result codes a world attaches to failed ACTION_RESULT events.
const (
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrBadRequest      = "E_BAD_REQUEST"
	ErrNoPermission    = "E_NO_PERMISSION"
	ErrRateLimit       = "E_RATE_LIMIT"
	ErrConflict        = "E_CONFLICT"
	ErrBlocked         = "E_BLOCKED"
	ErrStale           = "E_STALE"
	ErrInternal        = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrNoPermission:    {},
	ErrRateLimit:       {},
	ErrConflict:        {},
	ErrBlocked:         {},
	ErrStale:           {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// ActionResult is the decoded form of an ACTION_RESULT event.
type ActionResult struct {
	Ref     string
	OK      bool
	Code    string
	Message string
}

// ActionResult decodes e when it is an ACTION_RESULT. Unknown codes are
// reported as ErrInternal.
func (e Event) ActionResult() (ActionResult, bool) {
	if e.Type() != "ACTION_RESULT" {
		return ActionResult{}, false
	}
	ok, _ := e["ok"].(bool)
	r := ActionResult{Ref: e.str("ref"), OK: ok, Code: e.str("code"), Message: e.str("message")}
	if !IsKnownCode(r.Code) {
		r.Code = ErrInternal
	}
	return r, true
}
