// SPDX-License-Identifier: MIT
/*
Package transport holds the secondary sinks for loudness vectors: a
websocket mirror for browsers, a UDP push and a debug logger. The TCP
broadcast server is the primary sink and lives in package server.

Every sink reads from its own feed subscription, so a slow sink only drops
its own frames and never holds back the analyzer or the other sinks.
*/
package transport

import (
	"context"
	"errors"

	"bandcast/internal/analysis"
	"bandcast/internal/feed"
	applog "bandcast/internal/log"
)

// Transport sends loudness vectors somewhere. Implementations must be safe
// for use from one Pump goroutine while Close is called from another.
type Transport interface {
	Send(vec analysis.LoudnessVector) error
	Close() error
}

// Pump forwards every vector taken from sub to t until ctx is done or the
// feed is closed. Send errors are logged and do not stop the pump.
func Pump(ctx context.Context, sub *feed.Subscription, t Transport) error {
	log := applog.New("TransportPump")
	for {
		vec, err := sub.Wait(ctx)
		switch {
		case errors.Is(err, feed.ErrClosed), errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			return err
		}
		if err := t.Send(vec); err != nil {
			log.Warnf("%T: %v", t, err)
		}
	}
}
