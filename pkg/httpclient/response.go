package httpclient

import "turbohttp/internal/message"

// Response is re-exported from internal/message for the same reason as
// Request (see request.go): internal subsystems share the type without
// depending on this public package.
type Response = message.Response

var NewResponse = message.NewResponse
