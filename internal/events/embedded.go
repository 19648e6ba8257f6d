package events

import (
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// embeddedReadyTimeout bounds how long daemon startup waits for the broker.
const embeddedReadyTimeout = 5 * time.Second

// StartEmbedded runs an in-process NATS server for single-node deployments
// where an external broker is not worth operating. Port -1 picks a free
// port; the caller connects via ClientURL.
func StartEmbedded(host string, port int) (*natsserver.Server, error) {
	opts := &natsserver.Options{
		Host:           host,
		Port:           port,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	}

	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("creating embedded NATS server: %w", err)
	}

	go srv.Start()
	if !srv.ReadyForConnections(embeddedReadyTimeout) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready after %s", embeddedReadyTimeout)
	}
	return srv, nil
}
