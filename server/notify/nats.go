package notify

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"
)

type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATS publishes every event as JSON on "<prefix>.<matchID>".
type NATS struct {
	conn   natsConn
	prefix string
}

func NewNATS(url, prefix string) (*NATS, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Name("oracle-bluff"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newNATS(nc, prefix), nil
}

func newNATS(c natsConn, prefix string) *NATS {
	if prefix == "" {
		prefix = "oraclebluff.match"
	}
	return &NATS{conn: c, prefix: prefix}
}

func (n *NATS) Subject(matchID string) string { return n.prefix + "." + matchID }

func (n *NATS) Notify(ev Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[notify] nats marshal: %v", err)
		return
	}
	if err := n.conn.Publish(n.Subject(ev.MatchID), raw); err != nil {
		log.Printf("[notify] nats publish %s: %v", ev.Kind, err)
	}
}

func (n *NATS) Close() error { return n.conn.Drain() }
