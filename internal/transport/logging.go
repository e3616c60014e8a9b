// SPDX-License-Identifier: MIT
package transport

import (
	"strconv"

	"bandcast/internal/analysis"
	applog "bandcast/internal/log"
)

// LoggingTransport writes every vector to the debug log together with the
// LED level each band maps to.
type LoggingTransport struct {
	log *applog.Logger
	buf []byte
}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	lt := &LoggingTransport{log: applog.New("LoggingTransport")}
	lt.log.Infof("logging every vector at debug level")
	return lt
}

// Send logs vec. It never fails.
func (lt *LoggingTransport) Send(vec analysis.LoudnessVector) error {
	if applog.GetLevel() > applog.LevelDebug {
		return nil
	}
	lt.log.Debugf("%s", lt.format(vec))
	return nil
}

func (lt *LoggingTransport) format(vec analysis.LoudnessVector) string {
	lt.buf = lt.buf[:0]
	for i, v := range vec {
		if i > 0 {
			lt.buf = append(lt.buf, ' ')
		}
		lt.buf = strconv.AppendFloat(lt.buf, v, 'f', 1, 64)
		lt.buf = append(lt.buf, '/')
		lt.buf = strconv.AppendInt(lt.buf, int64(analysis.Level(v)), 10)
	}
	return string(lt.buf)
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
