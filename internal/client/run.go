// SPDX-License-Identifier: MIT
package client

import (
	"context"
	"errors"
	"time"
)

// Stats summarizes one reporting window of Run.
type Stats struct {
	Received      uint64        // Frames read in the window.
	Skipped       uint64        // Backlog frames among them.
	AveragePeriod time.Duration // Mean time between frames.
}

// StatsInterval is how often Run reports Stats.
const StatsInterval = time.Second

// Run reads frames until ctx is done or the connection fails. Live frames
// go to onFrame, backlog frames are acknowledged but skipped. onStats, if
// set, is called about once per StatsInterval. Run returns nil when ctx
// ends the loop.
func (c *Client) Run(ctx context.Context, onFrame func(Frame), onStats func(Stats)) error {
	var (
		window     Stats
		periodSum  time.Duration
		periods    int
		lastReport = time.Now()
	)

	for {
		f, err := c.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		window.Received++
		if f.Elapsed > 0 {
			periodSum += f.Elapsed
			periods++
		}

		if f.Backlog {
			window.Skipped++
			c.log.Debugf("reading faster than %s, skipping frame %d (%s since previous)",
				c.cfg.SkipThreshold(), f.Seq, f.Elapsed)
		} else if onFrame != nil {
			onFrame(f)
		}

		if now := time.Now(); now.Sub(lastReport) >= StatsInterval && periods > 0 {
			window.AveragePeriod = periodSum / time.Duration(periods)
			if onStats != nil {
				onStats(window)
			}
			c.log.Debugf("average receive period %s, received %d, skipped %d",
				window.AveragePeriod, window.Received, window.Skipped)
			window, periodSum, periods, lastReport = Stats{}, 0, 0, now
		}
	}
}
