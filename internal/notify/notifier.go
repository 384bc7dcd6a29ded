package notify

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecap/internal/attr"
	"github.com/srg/blecap/internal/capsense"
	"github.com/srg/blecap/internal/gattdb"
)

// Connection reports the active link.
type Connection interface {
	ConnID() uint16
	Connected() bool
}

// Pusher sends a handle value notification.
type Pusher interface {
	Notify(connID, handle uint16, value []byte) error
}

// Gate decides whether a characteristic may be pushed.
type Gate struct {
	store *attr.Store
	conn  Connection
}

func NewGate(store *attr.Store, conn Connection) Gate {
	return Gate{store: store, conn: conn}
}

// Allowed is true when bit 0 of the descriptor is set and a client is
// connected.
func (g Gate) Allowed(cccd uint16) bool {
	_, ok := g.Target(cccd)
	return ok
}

// Target returns the connection a push for cccd goes to. The id is read
// once; id 0 never passes.
func (g Gate) Target(cccd uint16) (uint16, bool) {
	id := g.conn.ConnID()
	if id == 0 || !Enabled(g.store, cccd) {
		return 0, false
	}
	return id, true
}

// Enabled reports whether the notification bit of a descriptor is set.
func Enabled(store *attr.Store, cccd uint16) bool {
	r, ok := store.Find(cccd)
	if !ok {
		return false
	}
	v := r.Value()
	return len(v) > 0 && v[0]&gattdb.CCCDNotify != 0
}

// NotifierStats counts notification outcomes.
type NotifierStats struct {
	Sent    int64
	Skipped int64
	Failed  int64
}

// Notifier refreshes characteristic values from the sensed state and pushes
// them to the connected client.
type Notifier struct {
	store  *attr.Store
	state  *capsense.State
	gate   Gate
	push   Pusher
	logger *logrus.Logger

	sent    atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

func NewNotifier(store *attr.Store, state *capsense.State, conn Connection, push Pusher, logger *logrus.Logger) *Notifier {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	return &Notifier{
		store:  store,
		state:  state,
		gate:   NewGate(store, conn),
		push:   push,
		logger: logger,
	}
}

// Refresh copies the live sensed value into the attribute at h. Handles
// without a live source are left alone.
func (n *Notifier) Refresh(h uint16) {
	snap := n.state.Snapshot()

	var v []byte
	switch h {
	case gattdb.HandleButtonValue:
		v = snap.ButtonValue()
	case gattdb.HandleSliderValue:
		v = snap.SliderValue()
	default:
		return
	}
	if err := n.store.Write(h, v); err != nil {
		n.logger.WithError(err).WithField("handle", h).Warn("Failed to refresh attribute")
	}
}

// NotifyAll pushes every notifiable characteristic whose gate is open and
// returns how many were sent. Failures are logged and dropped.
func (n *Notifier) NotifyAll() int {
	sent := 0
	for _, c := range gattdb.Notifiable() {
		if n.Notify(c) {
			sent++
		}
	}
	return sent
}

// Notify pushes a single characteristic if allowed.
func (n *Notifier) Notify(c gattdb.Characteristic) bool {
	connID, ok := n.gate.Target(c.CCCD)
	if !ok {
		n.skipped.Add(1)
		return false
	}

	n.Refresh(c.Value)
	value, err := n.store.Value(c.Value)
	if err != nil {
		n.failed.Add(1)
		n.logger.WithError(err).WithField("characteristic", c.Name).Warn("Notification value unavailable")
		return false
	}

	if err := n.push.Notify(connID, c.Value, value); err != nil {
		n.failed.Add(1)
		n.logger.WithError(err).WithFields(logrus.Fields{
			"characteristic": c.Name,
			"conn_id":        connID,
		}).Warn("Sending notification failed")
		return false
	}

	n.sent.Add(1)
	n.logger.WithFields(logrus.Fields{
		"characteristic": c.Name,
		"handle":         c.Value,
		"value":          value,
	}).Debug("Notification sent")
	return true
}

func (n *Notifier) Stats() NotifierStats {
	return NotifierStats{
		Sent:    n.sent.Load(),
		Skipped: n.skipped.Load(),
		Failed:  n.failed.Load(),
	}
}
