// Command corestored runs a Corestore as a standalone process: it
// opens (or creates) a store rooted at a directory on disk, ensures a
// named core exists inside it, and optionally listens for replication
// peers so other processes can pull blocks from it over TCP (spec.md
// §4.6.5, SPEC_FULL.md §4).
//
// Configuration (environment variables):
//   - CORESTORE_DIR: root directory for fsstore (required)
//   - CORESTORE_CORE: name of the core to ensure exists (default "main")
//   - CORESTORE_LISTEN: address to accept replication connections on
//     (optional; replication is disabled if unset)
//
// Example usage:
//
//	CORESTORE_DIR=/var/lib/corestore \
//	CORESTORE_CORE=main \
//	CORESTORE_LISTEN=:7420 \
//	./corestored
package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	corestore "github.com/dreamware/corestore"
	"github.com/dreamware/corestore/enginemem"
	"github.com/dreamware/corestore/storage/fsstore"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	dir := mustGetenv("CORESTORE_DIR")
	coreName := getenv("CORESTORE_CORE", "main")
	listen := getenv("CORESTORE_LISTEN", "")

	logger, err := zap.NewProduction()
	if err != nil {
		logFatal("build logger: %v", err)
	}
	defer logger.Sync()

	st, err := fsstore.Open(dir)
	if err != nil {
		logFatal("open storage at %s: %v", dir, err)
	}

	store := corestore.New(st, corestore.Options{
		Engine: enginemem.New(),
		Logger: logger,
	})

	ctx := context.Background()
	if err := store.Ready(ctx); err != nil {
		logFatal("store ready: %v", err)
	}

	sess, err := store.Get(ctx, corestore.SessionConfig{Name: &coreName})
	if err != nil {
		logFatal("get core %q: %v", coreName, err)
	}
	key := sess.Key()
	length, _ := sess.Length(ctx)
	logger.Info("core ready",
		zap.String("name", coreName),
		zap.String("key", hexString(key[:])),
		zap.Uint64("length", length),
	)
	if err := sess.Close(ctx); err != nil {
		logger.Warn("close initial session", zap.Error(err))
	}

	var ln net.Listener
	if listen != "" {
		ln, err = net.Listen("tcp", listen)
		if err != nil {
			logFatal("listen on %s: %v", listen, err)
		}
		logger.Info("accepting replication peers", zap.String("addr", listen))
		go acceptLoop(ctx, store, ln, logger)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	if ln != nil {
		_ = ln.Close()
	}
	if err := store.Close(context.Background()); err != nil {
		logger.Error("store close", zap.Error(err))
	}
	logger.Info("corestored stopped")
}

// acceptLoop accepts incoming TCP connections and wires each into the
// store's replication fabric until ln is closed.
func acceptLoop(ctx context.Context, store *corestore.Store, ln net.Listener, logger *zap.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		stream, err := store.Replicate(ctx, conn, corestore.ReplicateOptions{})
		if err != nil {
			logger.Warn("replicate", zap.Error(err))
			_ = conn.Close()
			continue
		}
		logger.Info("peer connected", zap.String("remote", conn.RemoteAddr().String()))
		_ = stream
	}
}

func hexString(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0x0f]
	}
	return string(out)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustGetenv(k string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	logFatal("missing env %s", k)
	return ""
}
