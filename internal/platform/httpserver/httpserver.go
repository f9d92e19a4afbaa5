package httpserver

import (
	"net/http"
	"time"

	"shepherd/internal/platform/config"
)

// writeSlack leaves room after the per-request timeout fires for the
// timeout response itself to be written.
const writeSlack = 5 * time.Second

// New builds the API server. Handler-level deadlines come from
// cfg.RequestTimeout; the write deadline trails it.
func New(cfg config.Server, handler http.Handler) *http.Server {
	writeTimeout := 30 * time.Second
	if cfg.RequestTimeout > 0 {
		writeTimeout = cfg.RequestTimeout + writeSlack
	}
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    16 << 10,
	}
}
