package logger

import (
	"github.com/valyala/fasthttp"
)

// LogRequestFast logs a concise summary of a request to the metrics server.
func LogRequestFast(ctx *fasthttp.RequestCtx) {
	if Log == nil {
		return
	}
	Debug("incoming_request", "method", string(ctx.Method()), "path", string(ctx.Path()), "remote", ctx.RemoteAddr().String(), "status", ctx.Response.StatusCode())
}
