// Command loadsharectl runs one EV-charger load-sharing peer: it
// discovers siblings, ingests their status, computes a deterministic
// allocation, and exposes both the peer protocol and a diagnostic API.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"loadsharing/internal/handlers"
	"loadsharing/internal/node"
)

const Version = "1.0.0"

func main() {
	listenAddr := flag.String("listen", "0.0.0.0:8080", "Listen address for the peer and diagnostic HTTP API")
	storeDir := flag.String("store-dir", "/var/lib/loadsharing", "Directory for the flat-file config and registry store")
	selfHost := flag.String("self-host", "", "This node's own reachable host:port, used to reject self-registration (default: hostname)")
	deviceID := flag.String("device-id", "", "This node's stable device identifier (default: /etc/machine-id prefix, else hostname)")
	flag.Parse()

	host := *selfHost
	if host == "" {
		h, err := os.Hostname()
		if err != nil {
			log.Fatalf("loadsharectl: resolve hostname: %v", err)
		}
		host = h
	}

	id := *deviceID
	if id == "" {
		id = node.LocalNodeID()
	}

	n, err := node.New(node.Config{
		DeviceID:   id,
		SelfHost:   host,
		ListenAddr: *listenAddr,
		Version:    Version,
		StoreDir:   *storeDir,
	})
	if err != nil {
		log.Fatalf("loadsharectl: init node: %v", err)
	}
	n.Start()

	r := mux.NewRouter()
	handlers.New(n).Register(r)

	srv := &http.Server{
		Addr:         *listenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // /ws streams hold the connection open indefinitely
	}

	go func() {
		log.Printf("loadsharectl: listening on %s device_id=%s", *listenAddr, id)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("loadsharectl: server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("loadsharectl: shutting down")
	n.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("loadsharectl: http shutdown error: %v", err)
	}
	log.Println("loadsharectl: stopped")
}
