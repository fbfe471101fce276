package state

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner sweeps idle sessions out of a store on a cron schedule.
type Pruner struct {
	cron   *cron.Cron
	store  Store
	idle   time.Duration
	logger *log.Logger
}

// NewPruner schedules PruneIdle(idleFor) per spec (cron expression or
// @every syntax). Call Start to begin sweeping and Stop on shutdown.
func NewPruner(store Store, spec string, idleFor time.Duration, logger *log.Logger) (*Pruner, error) {
	if logger == nil {
		logger = log.Default()
	}
	p := &Pruner{
		cron:   cron.New(),
		store:  store,
		idle:   idleFor,
		logger: logger,
	}
	if _, err := p.cron.AddFunc(spec, p.sweep); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pruner) sweep() {
	n, err := p.store.PruneIdle(p.idle)
	if err != nil {
		p.logger.Printf("session pruner: %v", err)
		return
	}
	if n > 0 {
		p.logger.Printf("session pruner: removed %d idle sessions", n)
	}
}

func (p *Pruner) Start() { p.cron.Start() }

func (p *Pruner) Stop() { p.cron.Stop() }
