package feed

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Poller invokes SyncAllSources on a fixed cadence. The orchestrator never
// schedules itself; the poller is the in-process stand-in for an external
// job trigger and is disabled when the interval is zero.
type Poller struct {
	service  *Service
	interval time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
	log      *logrus.Entry
}

// NewPoller creates a background poller.
func NewPoller(service *Service, interval time.Duration, log *logrus.Entry) *Poller {
	return &Poller{
		service:  service,
		interval: interval,
		stopChan: make(chan struct{}),
		log:      log,
	}
}

// Start begins the polling loop. No-op when the interval is zero.
func (p *Poller) Start() {
	if p.interval <= 0 {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			results, err := p.service.SyncAllSources(ctx)
			cancel()

			if err != nil {
				p.log.WithError(err).Error("sync run failed")
			} else {
				newArticles := 0
				for _, r := range results {
					newArticles += r.NewArticleCount
				}
				p.log.WithFields(logrus.Fields{
					"sources":      len(results),
					"new_articles": newArticles,
				}).Info("sync run finished")
			}

			select {
			case <-p.stopChan:
				return
			case <-time.After(p.interval):
			}
		}
	}()
}

// Stop stops the poller gracefully.
func (p *Poller) Stop() {
	close(p.stopChan)
	p.wg.Wait()
}
