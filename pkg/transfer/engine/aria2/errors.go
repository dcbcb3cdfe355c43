package aria2

import "github.com/transloadr/transloader/pkg/errx"

var aria2Errors = errx.NewRegistry("ARIA2")

var (
	ErrUnavailable = aria2Errors.Register("UNAVAILABLE", errx.TypeExternal, 502, "aria2 RPC endpoint unreachable")
	ErrRPC         = aria2Errors.Register("RPC", errx.TypeExternal, 502, "aria2 RPC call failed")
	ErrBadResponse = aria2Errors.Register("BAD_RESPONSE", errx.TypeExternal, 502, "aria2 returned a malformed response")
)
