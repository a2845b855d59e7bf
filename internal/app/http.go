package app

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"partitionstore/pkg/logger"
)

type readyResponse struct {
	Status     string   `json:"status"`
	Version    string   `json:"version,omitempty"`
	Partitions []uint64 `json:"partitions"`
	Missing    []uint64 `json:"missing,omitempty"`
}

// handler routes the metrics server requests.
func (a *App) handler() fasthttp.RequestHandler {
	metrics := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	return func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/metrics":
			metrics(ctx)
		case "/healthz":
			a.healthzHandlerFast(ctx)
		case "/readyz":
			a.readyzHandlerFast(ctx)
		default:
			writeJSON(ctx, fasthttp.StatusNotFound, map[string]string{"error": "not found"})
		}
		logger.LogRequestFast(ctx)
	}
}

// healthzHandlerFast reports liveness plus the sensor alerts.
func (a *App) healthzHandlerFast(ctx *fasthttp.RequestCtx) {
	body := map[string]any{"status": "ok", "state": a.State()}
	if a.hwSensor != nil {
		body["sensor"] = a.hwSensor.Status()
	}
	writeJSON(ctx, fasthttp.StatusOK, body)
}

// readyzHandlerFast is ready once every configured partition is open.
func (a *App) readyzHandlerFast(ctx *fasthttp.RequestCtx) {
	want := a.eff.Config.Store.Partitions
	resp := readyResponse{Status: "ok", Version: a.version, Partitions: a.mgr.IDs()}
	if resp.Version == "" {
		resp.Version = "dev"
	}
	for _, id := range want {
		if !a.mgr.Ready([]uint64{id}) {
			resp.Missing = append(resp.Missing, id)
		}
	}
	if len(resp.Missing) > 0 {
		resp.Status = "not ready"
		writeJSON(ctx, fasthttp.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, resp)
}

func writeJSON(ctx *fasthttp.RequestCtx, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(code)
	_, _ = ctx.Write(b)
}

// startHTTP binds addr and serves in the background, returning a channel
// that delivers the serve error.
func (a *App) startHTTP(addr string) (<-chan error, error) {
	const (
		readTimeout  = 10 * time.Second
		writeTimeout = 10 * time.Second
		idleTimeout  = 30 * time.Second
	)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	a.ln = ln
	a.addr.Store(ln.Addr().String())
	a.srvFast = &fasthttp.Server{
		Handler:           a.handler(),
		Name:              "pstore",
		ReduceMemoryUsage: true,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.srvFast.Serve(ln)
	}()
	logger.Info("metrics_server_listening", "addr", ln.Addr().String())
	return errCh, nil
}
