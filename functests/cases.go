package functests

import (
	"context"
	"sync"
	"time"

	"github.com/PwzXxm/nrpc-lite/client"
	"github.com/PwzXxm/nrpc-lite/registry"
	"github.com/PwzXxm/nrpc-lite/rpccore"
	"github.com/PwzXxm/nrpc-lite/rpcerr"
	"github.com/PwzXxm/nrpc-lite/server"
	"github.com/PwzXxm/nrpc-lite/services"
	"github.com/PwzXxm/nrpc-lite/simulation"
	"github.com/pkg/errors"
)

func eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func contains(eps []rpccore.Endpoint, ep rpccore.Endpoint) bool {
	for _, e := range eps {
		if e == ep {
			return true
		}
	}
	return false
}

func caseHelloRoundTrip() error {
	sl := simulation.RunLocally(3)
	defer sl.StopAll()

	for i := 0; i < 9; i++ {
		reply, err := sl.Hello("functest")
		if err != nil {
			return err
		}
		if reply != "hi consumer: functest" {
			return errors.Errorf("unexpected reply %q", reply)
		}
	}
	if n := len(sl.Client().Endpoints()); n != 3 {
		return errors.Errorf("expected connections to 3 providers, got %v", n)
	}
	return nil
}

func caseFailover() error {
	sl := simulation.RunLocally(3)
	defer sl.StopAll()

	if _, err := sl.Hello("warm up"); err != nil {
		return err
	}
	crashed, _ := sl.Endpoint("0")
	if err := sl.KillProvider("0"); err != nil {
		return err
	}
	for i := 0; i < 10; i++ {
		if _, err := sl.Hello("after crash"); err != nil {
			return errors.Wrapf(err, "call %v after crash", i)
		}
	}
	if !eventually(2*time.Second, func() bool {
		return !contains(sl.Client().Endpoints(), crashed)
	}) {
		return errors.Errorf("connection to crashed provider %v still cached", crashed)
	}
	return nil
}

func caseShutdownUnderLoad() error {
	sl := simulation.RunLocally(3)
	defer sl.StopAll()

	if _, err := sl.Hello("warm up"); err != nil {
		return err
	}
	var wg sync.WaitGroup
	errs := make(chan error, 30)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 30; i++ {
			if _, err := sl.Hello("load"); err != nil {
				errs <- err
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()
	time.Sleep(100 * time.Millisecond)
	if err := sl.ShutDownProvider("0"); err != nil {
		return err
	}
	wg.Wait()
	close(errs)
	if err, ok := <-errs; ok {
		return errors.Wrap(err, "call failed during shutdown")
	}
	eps, err := sl.Registered()
	if err != nil {
		return err
	}
	if len(eps) != 2 {
		return errors.Errorf("expected 2 registered providers, got %v", eps)
	}
	return nil
}

func caseLedgerUpdates() error {
	sl := simulation.RunLocally(3)
	defer sl.StopAll()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ledger := sl.Ledger()
	if err := ledger.Set(ctx, "total", 0); err != nil {
		return err
	}
	for i := 0; i < 20; i++ {
		if i == 10 {
			if err := sl.KillProvider("2"); err != nil {
				return err
			}
		}
		if err := ledger.Incr(ctx, "total", 1); err != nil {
			return errors.Wrapf(err, "incr %v", i)
		}
	}
	total, err := ledger.Get(ctx, "total")
	if err != nil {
		return err
	}
	if total != 20 {
		return errors.Errorf("expected total 20, got %v", total)
	}
	return nil
}

func caseRateLimit() error {
	network := rpccore.NewChanNetwork()
	reg := registry.NewMemory()
	defer reg.Close()

	s, err := server.New(server.Config{
		Network:         network,
		Listen:          rpccore.Endpoint{Host: "limited", Port: 8088},
		Registry:        reg,
		LimiterCapacity: 3,
		LimiterRate:     1,
	}, nil)
	if err != nil {
		return err
	}
	if err = s.Publish(services.NewGreeter("default")); err != nil {
		return err
	}
	if err = s.Start(); err != nil {
		return err
	}
	defer s.Shutdown(context.Background())

	c, err := client.New(client.Config{
		Network:          network.As("greedy"),
		Registry:         reg,
		DisableHeartbeat: true,
		// keep the breaker out of the way
		BreakerMaxErrors: 1000,
	}, nil)
	if err != nil {
		return err
	}
	defer c.Close()
	greeter := services.NewGreeterClient(c, "default", client.RetryPolicy{})

	passed, rejected := 0, 0
	for i := 0; i < 10; i++ {
		_, err := greeter.SayHello(context.Background(), "again")
		switch {
		case err == nil:
			passed++
		case rpcerr.Rejected(err):
			rejected++
		default:
			return errors.Wrap(err, "unexpected failure")
		}
	}
	if passed < 3 || rejected == 0 {
		return errors.Errorf("expected bursts to be limited, passed %v rejected %v", passed, rejected)
	}
	return nil
}

func caseHeartbeatEviction() error {
	sl := simulation.RunLocally(2)
	defer sl.StopAll()

	for i := 0; i < 2; i++ {
		if _, err := sl.Hello("warm up"); err != nil {
			return err
		}
	}
	slow, _ := sl.Endpoint("0")
	fast, _ := sl.Endpoint("1")
	if err := sl.SetDelay("0", 2*time.Second); err != nil {
		return err
	}
	if !eventually(8*time.Second, func() bool {
		return !contains(sl.Client().Endpoints(), slow)
	}) {
		return errors.Errorf("slow provider %v was never evicted", slow)
	}
	if !eventually(3*time.Second, func() bool {
		_, ok := sl.Client().Health().Latency(fast)
		return ok
	}) {
		return errors.Errorf("no heartbeat sample for %v", fast)
	}
	return nil
}
