// Package notify publishes transaction and intent status changes.
package notify

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"xswap/pkg/logger"
	"xswap/pkg/types"
)

const connectTimeout = 10 * time.Second

// Notifier receives status changes. Implementations must not block the caller
// for long and never fail it.
type Notifier interface {
	Transaction(tx types.Transaction)
	Intent(order types.IntentOrder)
	Close()
}

// Noop drops every notification.
type Noop struct{}

func (Noop) Transaction(types.Transaction) {}
func (Noop) Intent(types.IntentOrder)      {}
func (Noop) Close()                        {}

// Publisher is the subset of *nats.Conn used to publish.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes JSON records to "<prefix>.transaction.<status>" and
// "<prefix>.intent.<status>".
type NATS struct {
	conn   *nats.Conn
	pub    Publisher
	prefix string
	log    *zap.SugaredLogger
	once   sync.Once
}

// Connect dials the NATS server at url.
func Connect(url, prefix string) (*NATS, error) {
	log := logger.Named("notify")
	conn, err := nats.Connect(url,
		nats.Name("xswap"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warnw("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infow("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	n := NewNATS(conn, prefix)
	n.conn = conn
	return n, nil
}

// NewNATS publishes through pub.
func NewNATS(pub Publisher, prefix string) *NATS {
	if prefix == "" {
		prefix = "xswap"
	}
	return &NATS{pub: pub, prefix: prefix, log: logger.Named("notify")}
}

func (n *NATS) Transaction(tx types.Transaction) {
	n.publish(fmt.Sprintf("%s.transaction.%s", n.prefix, tx.Status), tx)
}

func (n *NATS) Intent(order types.IntentOrder) {
	n.publish(fmt.Sprintf("%s.intent.%s", n.prefix, order.Status), order)
}

func (n *NATS) publish(subject string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		n.log.Errorw("failed to encode notification", "subject", subject, "error", err)
		return
	}
	if err := n.pub.Publish(subject, data); err != nil {
		n.log.Warnw("failed to publish notification", "subject", subject, "error", err)
	}
}

// Close drains the connection when it was opened by Connect.
func (n *NATS) Close() {
	n.once.Do(func() {
		if n.conn != nil {
			_ = n.conn.Drain()
		}
	})
}

// New returns a NATS notifier when url is set and a Noop otherwise.
func New(url, prefix string) (Notifier, error) {
	if url == "" {
		return Noop{}, nil
	}
	return Connect(url, prefix)
}
