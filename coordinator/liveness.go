package coordinator

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"dfstore/models"
)

// livenessSweeper periodically derives every node's status and logs the
// transitions. Placement never waits on the sweeper; it derives statuses
// itself at registration time, so a stalled sweep can delay log lines
// but never a liveness decision.
type livenessSweeper struct {
	store    *MetadataStore
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	last     map[string]models.NodeStatus
}

func newLivenessSweeper(store *MetadataStore, interval time.Duration) *livenessSweeper {
	return &livenessSweeper{
		store:    store,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		last:     make(map[string]models.NodeStatus),
	}
}

func (s *livenessSweeper) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

// sweep logs status changes since the previous pass. It only observes;
// the registry itself is never written here.
func (s *livenessSweeper) sweep(now time.Time) {
	current := s.store.NodeStatuses(now)
	for id, status := range current {
		prev, seen := s.last[id]
		switch {
		case !seen && status == models.NodeInactive:
			log.Warnf("[Coordinator] Storage node %s is inactive", id)
		case seen && prev == models.NodeActive && status == models.NodeInactive:
			log.Warnf("[Coordinator] Storage node %s went inactive, excluded from new placements", id)
		case seen && prev == models.NodeInactive && status == models.NodeActive:
			log.Infof("[Coordinator] Storage node %s is active again", id)
		}
		s.last[id] = status
	}
}

func (s *livenessSweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
}
