package natsbridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServer runs a NATS server inside the daemon process for
// deployments without external messaging infrastructure.
type EmbeddedServer struct {
	mu      sync.RWMutex
	server  *server.Server
	port    int
	dataDir string
	running bool
}

// NewEmbeddedServer prepares an embedded server on the given port with
// JetStream storage under dataDir.
func NewEmbeddedServer(port int, dataDir string) *EmbeddedServer {
	if port <= 0 {
		port = 4222
	}
	return &EmbeddedServer{port: port, dataDir: dataDir}
}

// Start launches the server and waits until it accepts connections.
func (e *EmbeddedServer) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("server already running")
	}

	opts := &server.Options{
		Host:       "127.0.0.1",
		Port:       e.port,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}
	if e.dataDir != "" {
		opts.JetStream = true
		opts.StoreDir = e.dataDir
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("failed to create NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("NATS server not ready for connections")
	}

	e.server = ns
	e.running = true
	return nil
}

// Shutdown stops the server and waits for it to finish.
func (e *EmbeddedServer) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.server == nil {
		return
	}
	e.server.Shutdown()
	e.server.WaitForShutdown()
	e.running = false
	e.server = nil
}

// URL returns the client connection URL.
func (e *EmbeddedServer) URL() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fmt.Sprintf("nats://127.0.0.1:%d", e.port)
}

// IsRunning reports whether the server is up.
func (e *EmbeddedServer) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}
