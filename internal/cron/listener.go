package cron

import (
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// channelName is fixed by the wake-up protocol; only the server-side
// notify function is configurable.
const channelName = "cron_trigger"

// Listener wakes a worker when another process emits a cron
// notification for this database. It is a hint only; the worker still
// polls on its own schedule.
type Listener struct {
	pql    *pq.Listener
	dbName string
	log    zerolog.Logger
	wake   chan struct{}
	done   chan struct{}
}

func NewListener(connStr, dbName string, log zerolog.Logger) (*Listener, error) {
	l := &Listener{
		dbName: dbName,
		log:    log,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	l.pql = pq.NewListener(connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn().Err(err).Msg("cron listener connection event")
		}
	})
	if err := l.pql.Listen(channelName); err != nil {
		l.pql.Close()
		return nil, err
	}

	go l.run()
	return l, nil
}

func (l *Listener) run() {
	for {
		select {
		case <-l.done:
			return
		case n := <-l.pql.Notify:
			if n == nil {
				// Connection was re-established; the worker may have
				// missed notifications, so wake it.
				l.signal()
				continue
			}
			if n.Extra == l.dbName {
				l.signal()
			}
		}
	}
}

func (l *Listener) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Wake returns the channel that fires when this database was notified.
func (l *Listener) Wake() <-chan struct{} { return l.wake }

func (l *Listener) Close() error {
	close(l.done)
	return l.pql.Close()
}
