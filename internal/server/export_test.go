package server

import (
	"context"
	"time"
)

// ReapIdleForTest runs one reaper pass as of now.
func (srv *Server) ReapIdleForTest(now time.Time) (int, error) {
	return srv.sessions.reapIdle(context.Background(), now)
}

// SessionCountForTest reports the number of live sessions.
func (srv *Server) SessionCountForTest() int {
	return srv.sessions.len()
}

// LogFormatterForTest exposes the access log formatter.
var LogFormatterForTest = logFormatter
