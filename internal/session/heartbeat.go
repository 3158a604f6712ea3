package session

import (
	"time"

	"github.com/shepherd-project/shepherd/internal/protocol"
)

// heartbeatThreshold derives the tolerated consecutive failures from the
// configured liveness timeout.
func heartbeatThreshold(livenessTimeout time.Duration) int {
	threshold := int((livenessTimeout + heartbeatInterval - 1) / heartbeatInterval)
	if threshold < 1 {
		threshold = 1
	}
	return threshold
}

// heartbeatLoop probes liveness while authenticated. Enough consecutive
// failures mean the connection is silently dead and force a reconnect.
func (s *Session) heartbeatLoop() {
	threshold := heartbeatThreshold(time.Duration(s.pacing.LivenessTimeoutSec) * time.Second)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for range ticker.C {
		if s.State() != StateAuthenticated || !s.adapter.IsConnected() {
			return
		}

		_, err := s.adapter.Call(func(jobID uint64) protocol.Frame {
			return protocol.BuildHeartbeat(jobID)
		}, callTimeout)

		s.mu.Lock()
		if err != nil {
			s.heartbeatFailures++
		} else {
			s.heartbeatFailures = 0
		}
		failures := s.heartbeatFailures
		s.mu.Unlock()

		if err != nil {
			s.logger.Warn().Err(err).Int("failures", failures).Msg("heartbeat failed")
		}
		if failures > threshold {
			s.logger.Error().Msg("connection silently dead, forcing reconnect")
			s.Reconnect()
			return
		}
	}
}
