package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/PwzXxm/nrpc-lite/rpccore"
	"github.com/PwzXxm/nrpc-lite/utils"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPeriod    = 2 * time.Second
	DefaultTimeout   = time.Second
	DefaultTries     = 3
	DefaultMaxJitter = 40 * time.Millisecond
)

// Prober representing the side that owns the connections
type Prober interface {
	// Endpoints lists every endpoint with a cached connection
	Endpoints() []rpccore.Endpoint
	// Ping sends one heartbeat and waits for SUCCESS_HEARTBEAT
	Ping(ctx context.Context, ep rpccore.Endpoint) error
	// Evict drops the endpoint's cached connection
	Evict(ep rpccore.Endpoint)
}

type Config struct {
	Period    time.Duration
	Timeout   time.Duration
	Tries     int
	MaxJitter time.Duration
}

func (c Config) withDefaults() Config {
	if c.Period <= 0 {
		c.Period = DefaultPeriod
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Tries <= 0 {
		c.Tries = DefaultTries
	}
	if c.MaxJitter < 0 {
		c.MaxJitter = 0
	}
	return c
}

type Detector struct {
	prober Prober
	table  *HealthTable
	config Config
	logger *logrus.Entry

	lock    deadlock.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func NewDetector(p Prober, table *HealthTable, config Config, logger *logrus.Entry) *Detector {
	return &Detector{
		prober: p,
		table:  table,
		config: config.withDefaults(),
		logger: utils.OrNop(logger),
	}
}

// Start is a no-op when the detector is already running
func (d *Detector) Start() {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.loop(d.stop, d.done)
	d.logger.Debugf("Heartbeat detector started, period %v", d.config.Period)
}

func (d *Detector) loop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.config.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-stop:
					cancel()
				case <-ctx.Done():
				}
			}()
			d.RunOnce(ctx)
			cancel()
		case <-stop:
			return
		}
	}
}

// Stop waits for a running cycle to finish
func (d *Detector) Stop() {
	d.lock.Lock()
	if !d.running {
		d.lock.Unlock()
		return
	}
	d.running = false
	close(d.stop)
	done := d.done
	d.lock.Unlock()
	<-done
}

func (d *Detector) Running() bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.running
}

// RunOnce clears the table and probes every endpoint concurrently.
// Endpoints failing every try are evicted.
func (d *Detector) RunOnce(ctx context.Context) {
	d.table.Reset()
	var wg sync.WaitGroup
	for _, ep := range d.prober.Endpoints() {
		wg.Add(1)
		go func(ep rpccore.Endpoint) {
			defer wg.Done()
			d.probe(ctx, ep)
		}(ep)
	}
	wg.Wait()
}

func (d *Detector) probe(ctx context.Context, ep rpccore.Endpoint) {
	var err error
	for try := 0; try < d.config.Tries; try++ {
		if try > 0 {
			select {
			case <-time.After(utils.RandomTime(0, d.config.MaxJitter)):
			case <-ctx.Done():
				return
			}
		}
		start := time.Now()
		pctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
		err = d.prober.Ping(pctx, ep)
		cancel()
		if err == nil {
			d.table.Record(ep, time.Since(start))
			d.logger.Tracef("Heartbeat to %v took %v", ep, time.Since(start))
			return
		}
		if ctx.Err() != nil {
			return
		}
		d.logger.Debugf("Heartbeat to %v failed (try %v/%v): %v", ep, try+1, d.config.Tries, err)
	}
	d.logger.Warnf("Evicting %v after %v failed heartbeats: %v", ep, d.config.Tries, err)
	d.prober.Evict(ep)
}
