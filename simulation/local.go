package simulation

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/PwzXxm/nrpc-lite/client"
	"github.com/PwzXxm/nrpc-lite/heartbeat"
	"github.com/PwzXxm/nrpc-lite/registry"
	"github.com/PwzXxm/nrpc-lite/rpccore"
	"github.com/PwzXxm/nrpc-lite/server"
	"github.com/PwzXxm/nrpc-lite/services"
	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

const (
	clientRequestTimeout = 5 * time.Second
	providerPort         = 8088
	group                = "default"
)

// ProviderState of one simulated provider
type ProviderState int

const (
	Up ProviderState = iota
	Draining
	Down
	Killed
)

func (s ProviderState) String() string {
	switch s {
	case Up:
		return "up"
	case Draining:
		return "draining"
	case Down:
		return "down"
	case Killed:
		return "killed"
	}
	return "unknown"
}

type provider struct {
	id       string
	endpoint rpccore.Endpoint
	server   *server.Server
	state    ProviderState
}

// Local runs n providers and one consumer inside the process, connected
// by an in-memory network and registry. Providers share one ledger.
type Local struct {
	n         int
	network   *rpccore.ChanNetwork
	registry  *registry.Memory
	ledger    *services.Ledger
	client    *client.Client
	greeter   *services.GreeterClient
	accounts  *services.LedgerClient
	providers map[string]*provider
	logger    *logrus.Logger

	lock     deadlock.Mutex
	delays   map[rpccore.Endpoint]time.Duration
	stopOnce sync.Once
}

var log *logrus.Logger

func init() {
	log = logrus.New()
	log.Out = os.Stdout
}

// RunLocally starts a simulation with n providers, panicking when they
// cannot be started
func RunLocally(n int) *Local {
	log.Info("Starting simulation locally ...")

	l, err := newLocal(n, log)
	if err != nil {
		log.Panicln(err)
	}
	return l
}

func newLocal(n int, logger *logrus.Logger) (*Local, error) {
	if n <= 0 {
		err := errors.Errorf("The number of providers should be positive, but got %v", n)
		return nil, err
	}

	l := new(Local)
	l.n = n
	l.network = rpccore.NewChanNetwork()
	l.registry = registry.NewMemory()
	l.ledger = services.NewLedger()
	l.providers = make(map[string]*provider)
	l.logger = logger
	l.delays = make(map[rpccore.Endpoint]time.Duration)
	l.network.SetDelayGenerator(l.delay)

	for i := 0; i < n; i++ {
		id := strconv.Itoa(i)
		ep := rpccore.Endpoint{Host: fmt.Sprintf("10.0.0.%v", i+1), Port: providerPort}
		s, err := server.New(server.Config{
			Network:  l.network,
			Listen:   ep,
			Registry: l.registry,
			// the single simulated consumer would trip the default limiter
			LimiterCapacity: 1000,
			LimiterRate:     1000,
			MaxDrainWait:    3 * time.Second,
		}, logger.WithFields(logrus.Fields{"provider": id}))
		if err != nil {
			return nil, err
		}
		if err = s.Publish(services.NewGreeter(group)); err != nil {
			return nil, err
		}
		if err = s.Publish(services.NewLedgerService(group, l.ledger)); err != nil {
			return nil, err
		}
		if err = s.Start(); err != nil {
			return nil, errors.Wrapf(err, "Failed to start provider %v", id)
		}
		l.providers[id] = &provider{id: id, endpoint: ep, server: s, state: Up}
	}

	c, err := client.New(client.Config{
		Network:  l.network.As("consumer"),
		Registry: l.registry,
		Heartbeat: heartbeat.Config{
			Period:  time.Second,
			Timeout: 500 * time.Millisecond,
		},
	}, logger.WithFields(logrus.Fields{"side": "consumer"}))
	if err != nil {
		return nil, err
	}
	retry := client.RetryPolicy{MaxRetries: n - 1, Interval: 50 * time.Millisecond}
	l.client = c
	l.greeter = services.NewGreeterClient(c, group, retry)
	l.accounts = services.NewLedgerClient(c, group, "simulation", retry)
	return l, nil
}

func (l *Local) delay(source string, target rpccore.Endpoint) time.Duration {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.delays[target]
}

// SetDelay adds d to every write the consumer sends to provider id
func (l *Local) SetDelay(id string, d time.Duration) error {
	p, ok := l.providers[id]
	if !ok {
		return errors.Errorf("Unable to find provider %v", id)
	}
	l.lock.Lock()
	l.delays[p.endpoint] = d
	l.lock.Unlock()
	return nil
}

// StopAll drains every running provider and closes the consumer
func (l *Local) StopAll() {
	l.stopOnce.Do(func() {
		l.client.Close()
		for _, id := range l.getAllProviderIDs() {
			if l.state(id) == Up {
				_ = l.ShutDownProvider(id)
			}
		}
	})
}

// ShutDownProvider runs the graceful shutdown of provider id
func (l *Local) ShutDownProvider(id string) error {
	p, ok := l.providers[id]
	if !ok {
		return errors.Errorf("Unable to find provider %v", id)
	}
	l.setState(p, Draining)
	err := p.server.Shutdown(context.Background())
	l.setState(p, Down)
	return err
}

// KillProvider drops provider id without deregistering it, like a crash
func (l *Local) KillProvider(id string) error {
	p, ok := l.providers[id]
	if !ok {
		return errors.Errorf("Unable to find provider %v", id)
	}
	l.network.Kill(p.endpoint)
	l.setState(p, Killed)
	return nil
}

func (l *Local) setState(p *provider, s ProviderState) {
	l.lock.Lock()
	p.state = s
	l.lock.Unlock()
}

func (l *Local) state(id string) ProviderState {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.providers[id].state
}

func (l *Local) Hello(msg string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), clientRequestTimeout)
	defer cancel()
	return l.greeter.SayHello(ctx, msg)
}

// Ledger returns the consumer side of the shared ledger service
func (l *Local) Ledger() *services.LedgerClient {
	return l.accounts
}

func (l *Local) Client() *client.Client {
	return l.client
}

func (l *Local) Wait(sec int) {
	if sec <= 0 {
		log.Warnf("Seconds to wait should be positive integer, not %v", sec)
		return
	}

	log.Infof("Sleeping for %v second(s)", sec)
	time.Sleep(time.Duration(sec) * time.Second)
}

func (l *Local) getAllProviderIDs() []string {
	rst := make([]string, 0, len(l.providers))
	for id := range l.providers {
		rst = append(rst, id)
	}
	sort.Slice(rst, func(i, j int) bool {
		a, _ := strconv.Atoi(rst[i])
		b, _ := strconv.Atoi(rst[j])
		return a < b
	})
	return rst
}

func (l *Local) getProviderInfo(id string) map[string]string {
	p := l.providers[id]
	info := map[string]string{
		"endpoint": p.endpoint.String(),
		"instance": p.server.ID(),
		"state":    l.state(id).String(),
		"inflight": strconv.FormatInt(p.server.Coordinator().InFlight(), 10),
	}
	if rtt, ok := l.client.Health().Latency(p.endpoint); ok {
		info["latency"] = rtt.String()
	} else {
		info["latency"] = "-"
	}
	return info
}

// Registered lists the endpoints the registry holds for the greeter
func (l *Local) Registered() ([]rpccore.Endpoint, error) {
	return l.registry.Lookup(services.GreeterInterface, group)
}

// Endpoint of provider id
func (l *Local) Endpoint(id string) (rpccore.Endpoint, bool) {
	p, ok := l.providers[id]
	if !ok {
		return rpccore.Endpoint{}, false
	}
	return p.endpoint, true
}

// Alive lists the providers still accepting calls
func (l *Local) Alive() []string {
	rst := []string{}
	for _, id := range l.getAllProviderIDs() {
		if l.state(id) == Up {
			rst = append(rst, id)
		}
	}
	return rst
}
