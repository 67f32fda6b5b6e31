package httpclient

import "turbohttp/internal/message"

// Request and its builder methods live in internal/message so every
// internal subsystem (pool, middleware, cache, replay, h1/h2) can share the
// same wire-level type without importing this public package — this alias
// is the public name spec §6 calls the "immutable request" data collaborator.
type Request = message.Request

type Method = message.Method

const (
	MethodGET     = message.MethodGET
	MethodHEAD    = message.MethodHEAD
	MethodPOST    = message.MethodPOST
	MethodPUT     = message.MethodPUT
	MethodPATCH   = message.MethodPATCH
	MethodDELETE  = message.MethodDELETE
	MethodOPTIONS = message.MethodOPTIONS
	MethodTRACE   = message.MethodTRACE
	MethodCONNECT = message.MethodCONNECT
)

var NewRequest = message.NewRequest
