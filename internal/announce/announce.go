// SPDX-License-Identifier: MIT
/*
Package announce tells the local network where the broadcast server is.

Two announcers exist: mDNS for zero-configuration discovery on the LAN and
a Redis pub/sub heartbeat for fleets that already share a broker. Neither
is required for the feed to work, so their failures are logged and never
stop the pipeline.
*/
package announce

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	applog "bandcast/internal/log"
	"bandcast/internal/protocol"

	"github.com/google/uuid"
)

// Status values carried by Announcement.
const (
	StatusUp   = "up"
	StatusDown = "down"
)

// Announcement describes one running broadcast server.
type Announcement struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Host       string    `json:"host"`
	Port       int       `json:"port"`
	SampleRate int       `json:"sample_rate"`
	BandCount  int       `json:"band_count"`
	Status     string    `json:"status"`
	Time       time.Time `json:"time"`
}

// NewAnnouncement returns an announcement with a fresh instance ID. An
// empty host is replaced by the machine's hostname.
func NewAnnouncement(name, host string, port int, cfg protocol.ServerConfig) Announcement {
	if host == "" || host == "0.0.0.0" || host == "::" {
		if h, err := os.Hostname(); err == nil {
			host = h
		}
	}
	return Announcement{
		ID:         uuid.New().String(),
		Name:       name,
		Host:       host,
		Port:       port,
		SampleRate: int(cfg.SampleRate),
		BandCount:  int(cfg.BandCount),
		Status:     StatusUp,
	}
}

// TXT returns the mDNS TXT records for a.
func (a Announcement) TXT() []string {
	return []string{
		"id=" + a.ID,
		"rate=" + strconv.Itoa(a.SampleRate),
		"bands=" + strconv.Itoa(a.BandCount),
	}
}

// Marshal stamps a with status and now and encodes it as JSON.
func (a Announcement) Marshal(status string, now time.Time) ([]byte, error) {
	a.Status = status
	a.Time = now.UTC()
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("announce: encode: %w", err)
	}
	return b, nil
}

// Announcer advertises the server until ctx is done.
type Announcer interface {
	Run(ctx context.Context) error
}

// Run runs every announcer until ctx is done. Errors are logged, never
// returned, so a missing broker or a blocked multicast port cannot take the
// feed down.
func Run(ctx context.Context, announcers ...Announcer) {
	log := applog.New("Announce")
	done := make(chan struct{}, len(announcers))
	for _, a := range announcers {
		go func() {
			defer func() { done <- struct{}{} }()
			if err := a.Run(ctx); err != nil {
				log.Warnf("%T stopped: %v", a, err)
			}
		}()
	}
	for range announcers {
		<-done
	}
}
