// Package daemon embeds a NATS server with JetStream for `stally serve` and
// for development setups that have no external broker.
package daemon

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

const (
	// DefaultNATSPort is the default TCP port for the embedded NATS server.
	DefaultNATSPort = 4222

	// DefaultNATSMaxMem is the default JetStream memory limit (256 MiB).
	DefaultNATSMaxMem = 256 << 20

	// DefaultNATSMaxStore is the default JetStream file storage limit (4 GiB).
	// Raw notification streams outlive their consumers.
	DefaultNATSMaxStore = 4 << 30
)

// NATSServer wraps an embedded NATS server with JetStream and provides
// lifecycle management (start, stop, health check).
type NATSServer struct {
	server   *server.Server
	conn     *nats.Conn // in-process connection for the daemon's own loops
	storeDir string
	port     int
}

// NATSConfig holds configuration for the embedded NATS server.
type NATSConfig struct {
	Port     int    // TCP port for external connections (default: 4222)
	StoreDir string // JetStream file storage directory
}

// NATSConfigFromEnv builds NATSConfig from environment variables and defaults.
func NATSConfigFromEnv(runtimeDir string) NATSConfig {
	cfg := NATSConfig{
		Port:     DefaultNATSPort,
		StoreDir: filepath.Join(runtimeDir, "nats"),
	}

	if portStr := os.Getenv("STALLY_NATS_PORT"); portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil && p > 0 {
			cfg.Port = p
		}
	}

	if dir := os.Getenv("STALLY_NATS_STORE_DIR"); dir != "" {
		cfg.StoreDir = dir
	}

	return cfg
}

// StartNATSServer creates and starts an embedded NATS server with JetStream
// enabled, plus an in-process client connection for the daemon's own
// consumer and publisher loops.
func StartNATSServer(cfg NATSConfig) (*NATSServer, error) {
	if err := os.MkdirAll(cfg.StoreDir, 0700); err != nil {
		return nil, fmt.Errorf("create NATS store dir: %w", err)
	}

	opts := &server.Options{
		ServerName:         "stally-daemon",
		Host:               "0.0.0.0",
		Port:               cfg.Port,
		JetStream:          true,
		JetStreamMaxMemory: DefaultNATSMaxMem,
		JetStreamMaxStore:  DefaultNATSMaxStore,
		StoreDir:           cfg.StoreDir,
		NoLog:              true,
		NoSigs:             true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server failed to become ready within 10 seconds")
	}

	// Read the port back from the listener so Port: -1 (OS-assigned, used by
	// tests) reports the real port.
	port := cfg.Port
	if addr, ok := ns.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}

	nc, err := nats.Connect(ns.ClientURL(), nats.Name("stally-daemon-internal"))
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("in-process NATS connection: %w", err)
	}

	return &NATSServer{
		server:   ns,
		conn:     nc,
		storeDir: cfg.StoreDir,
		port:     port,
	}, nil
}

// Conn returns the in-process NATS connection for the daemon's own use.
func (n *NATSServer) Conn() *nats.Conn {
	return n.conn
}

// Port returns the TCP port the NATS server is listening on.
func (n *NATSServer) Port() int {
	return n.port
}

// URL returns the client connection URL for the embedded server.
func (n *NATSServer) URL() string {
	return fmt.Sprintf("nats://127.0.0.1:%d", n.port)
}

// Shutdown gracefully stops the NATS server. Drains the in-process
// connection first, then shuts down the server and waits for completion.
func (n *NATSServer) Shutdown() {
	if n.conn != nil {
		_ = n.conn.Drain()
		n.conn.Close()
	}
	if n.server != nil {
		n.server.Shutdown()
		n.server.WaitForShutdown()
	}
}

// Health returns a NATSHealth snapshot of the server's current state.
func (n *NATSServer) Health() NATSHealth {
	h := NATSHealth{
		Port: n.port,
	}

	if n.server == nil {
		h.Status = "stopped"
		return h
	}

	varz, err := n.server.Varz(nil)
	if err != nil {
		h.Status = "error"
		h.Error = err.Error()
		return h
	}

	h.Status = "running"
	h.Connections = int(varz.Connections)
	h.InMsgs = varz.InMsgs
	h.OutMsgs = varz.OutMsgs
	h.Uptime = varz.Now.Sub(varz.Start).String()

	jsz, err := n.server.Jsz(nil)
	if err == nil && jsz != nil {
		h.JetStream = true
		h.Streams = int(jsz.Streams)
		h.Consumers = int(jsz.Consumers)
		h.Messages = jsz.Messages
	}

	return h
}

// NATSHealth represents a point-in-time health snapshot of the NATS server.
type NATSHealth struct {
	Status      string `json:"status"` // "running", "stopped", "error"
	Port        int    `json:"port"`
	Connections int    `json:"connections"`
	InMsgs      int64  `json:"in_msgs"`
	OutMsgs     int64  `json:"out_msgs"`
	Uptime      string `json:"uptime,omitempty"`
	JetStream   bool   `json:"jetstream"`
	Streams     int    `json:"streams,omitempty"`
	Consumers   int    `json:"consumers,omitempty"`
	Messages    uint64 `json:"messages,omitempty"`
	Error       string `json:"error,omitempty"`
}
