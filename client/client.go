// Package client is the consumer side. A Client owns every piece of
// process-wide consumer state (pending calls, connections, selectors,
// breakers, health table) so several isolated clients can live in one
// process.
package client

import (
	"context"
	"time"

	"github.com/PwzXxm/nrpc-lite/heartbeat"
	"github.com/PwzXxm/nrpc-lite/idgen"
	"github.com/PwzXxm/nrpc-lite/loadbalance"
	"github.com/PwzXxm/nrpc-lite/protection"
	"github.com/PwzXxm/nrpc-lite/protocol"
	"github.com/PwzXxm/nrpc-lite/registry"
	"github.com/PwzXxm/nrpc-lite/rpccore"
	"github.com/PwzXxm/nrpc-lite/rpcerr"
	"github.com/PwzXxm/nrpc-lite/utils"
	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

const (
	DefaultCallTimeout = 10 * time.Second

	DefaultBreakerMaxErrors    = 10
	DefaultBreakerMaxErrorRate = 0.5
	DefaultBreakerCooldown     = 5 * time.Second
)

// Config of a Client. Zero values fall back to the defaults.
type Config struct {
	Network  rpccore.Network
	Registry registry.Registry
	// Codec defaults to the built-in serializers and compressors
	Codec *protocol.Codec

	Serializer   string
	Compressor   string
	LoadBalancer string

	CallTimeout time.Duration
	DialTimeout time.Duration
	Heartbeat   heartbeat.Config
	// DisableHeartbeat keeps the detector from starting on first use
	DisableHeartbeat bool

	BreakerMaxErrors    int
	BreakerMaxErrorRate float64
	BreakerCooldown     time.Duration

	DataCenter int
	Machine    int
}

// Call describes one remote invocation
type Call struct {
	Service    string
	Group      string
	Method     string
	ParamTypes []string
	Args       []interface{}
	ReturnType string
}

type Client struct {
	ids           *idgen.Generator
	codec         *protocol.Codec
	serializeCode byte
	compressCode  byte
	callTimeout   time.Duration

	pending  *PendingTable
	conns    *connCache
	balancer *loadbalance.Balancer
	breakers *protection.BreakerTable
	health   *heartbeat.HealthTable
	detector *heartbeat.Detector
	registry registry.Registry

	lock     deadlock.Mutex
	services map[string]*serviceState
	logger   *logrus.Entry

	heartbeatOff bool
}

type serviceState struct {
	service, group string
	endpoints      []rpccore.Endpoint
	cancelWatch    func()
}

func New(config Config, logger *logrus.Entry) (*Client, error) {
	logger = utils.OrNop(logger)
	if config.Network == nil {
		return nil, errors.New("client needs a network")
	}
	if config.Codec == nil {
		config.Codec = protocol.NewCodec(nil, nil)
	}
	if config.Serializer == "" {
		config.Serializer = "gob"
	}
	if config.Compressor == "" {
		config.Compressor = "gzip"
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultCallTimeout
	}
	if config.BreakerMaxErrors <= 0 {
		config.BreakerMaxErrors = DefaultBreakerMaxErrors
	}
	if config.BreakerMaxErrorRate <= 0 {
		config.BreakerMaxErrorRate = DefaultBreakerMaxErrorRate
	}
	if config.BreakerCooldown <= 0 {
		config.BreakerCooldown = DefaultBreakerCooldown
	}

	serializeCode, _, err := config.Codec.Serializers().ByName(config.Serializer)
	if err != nil {
		return nil, err
	}
	compressCode, _, err := config.Codec.Compressors().ByName(config.Compressor)
	if err != nil {
		return nil, err
	}
	ids, err := idgen.New(config.DataCenter, config.Machine)
	if err != nil {
		return nil, err
	}

	c := &Client{
		ids:           ids,
		codec:         config.Codec,
		serializeCode: serializeCode,
		compressCode:  compressCode,
		callTimeout:   config.CallTimeout,
		breakers: protection.NewBreakerTable(config.BreakerMaxErrors,
			config.BreakerMaxErrorRate, config.BreakerCooldown),
		health:       heartbeat.NewHealthTable(),
		registry:     config.Registry,
		services:     make(map[string]*serviceState),
		logger:       logger,
		heartbeatOff: config.DisableHeartbeat,
	}
	strategy, err := loadbalance.StrategyByName(config.LoadBalancer, latencyView{c})
	if err != nil {
		return nil, err
	}
	c.pending = NewPendingTable(logger)
	c.conns = newConnCache(config.Network, config.DialTimeout, c.codec, c.pending, logger)
	c.balancer = loadbalance.NewBalancer(config.Registry, strategy, logger)
	c.detector = heartbeat.NewDetector(c, c.health, config.Heartbeat, logger)
	return c, nil
}

// latencyView feeds heartbeat samples and the connection cache to the
// minimum latency strategy
type latencyView struct {
	c *Client
}

func (v latencyView) Fastest(candidates []rpccore.Endpoint) (rpccore.Endpoint, bool) {
	return v.c.health.Fastest(candidates)
}

func (v latencyView) Cached(ep rpccore.Endpoint) bool {
	_, ok := v.c.conns.lookup(ep)
	return ok
}

// SerializerCode is the code used for outbound requests
func (c *Client) SerializerCode() byte { return c.serializeCode }

func (c *Client) Health() *heartbeat.HealthTable { return c.health }

func (c *Client) Pending() *PendingTable { return c.pending }

func (c *Client) Breakers() *protection.BreakerTable { return c.breakers }

// ensureService runs once per (service, group): connect to every known
// endpoint, watch the registry and start the heartbeat detector
func (c *Client) ensureService(service, group string) error {
	key := registry.Key(service, group)
	c.lock.Lock()
	_, ok := c.services[key]
	c.lock.Unlock()
	if ok {
		return nil
	}
	eps, err := c.balancer.Endpoints(service, group)
	if err != nil {
		return err
	}

	c.lock.Lock()
	if _, ok := c.services[key]; ok {
		c.lock.Unlock()
		return nil
	}
	state := &serviceState{service: service, group: group, endpoints: eps}
	c.services[key] = state
	c.lock.Unlock()

	c.connectAll(eps)
	if c.registry != nil {
		cancel, err := c.registry.Watch(service, group, func(eps []rpccore.Endpoint) {
			c.onTopologyChange(service, group, eps)
		})
		if err != nil {
			c.logger.Warnf("Unable to watch %v: %v", key, err)
		} else {
			c.lock.Lock()
			state.cancelWatch = cancel
			c.lock.Unlock()
		}
	}
	if !c.heartbeatOff {
		c.detector.Start()
	}
	c.logger.Infof("Using %v with %v endpoints", key, len(eps))
	return nil
}

func (c *Client) connectAll(eps []rpccore.Endpoint) {
	for _, ep := range eps {
		if _, err := c.conns.get(context.Background(), ep); err != nil {
			c.logger.Warnf("Unable to connect to %v: %v", ep, err)
		}
	}
}

// onTopologyChange connects to new endpoints, drops connections nobody
// references any more and swaps the selector
func (c *Client) onTopologyChange(service, group string, eps []rpccore.Endpoint) {
	key := registry.Key(service, group)
	c.lock.Lock()
	state, ok := c.services[key]
	if !ok {
		c.lock.Unlock()
		return
	}
	old := state.endpoints
	state.endpoints = append([]rpccore.Endpoint{}, eps...)
	inUse := make(map[rpccore.Endpoint]bool)
	for _, s := range c.services {
		for _, ep := range s.endpoints {
			inUse[ep] = true
		}
	}
	c.lock.Unlock()

	current := make(map[rpccore.Endpoint]bool, len(eps))
	for _, ep := range eps {
		current[ep] = true
	}
	var added []rpccore.Endpoint
	prev := make(map[rpccore.Endpoint]bool, len(old))
	for _, ep := range old {
		prev[ep] = true
		if !current[ep] && !inUse[ep] {
			c.logger.Infof("%v went offline for %v", ep, key)
			c.conns.evict(ep, errors.Errorf("%v left %v", ep, key))
			c.health.Remove(ep)
		}
	}
	for _, ep := range eps {
		if !prev[ep] {
			added = append(added, ep)
			c.logger.Infof("%v came online for %v", ep, key)
		}
	}
	c.connectAll(added)
	c.balancer.OnTopologyChange(service, group, eps)
}

func (c *Client) buildRequest(call Call) (*protocol.Request, error) {
	s, err := c.codec.Serializers().ByCode(c.serializeCode)
	if err != nil {
		return nil, err
	}
	values := make([][]byte, len(call.Args))
	for i, arg := range call.Args {
		if values[i], err = s.Serialize(arg); err != nil {
			return nil, rpcerr.Wrap(err, rpcerr.KindSerialization,
				"serialize argument %v of %v.%v", i, call.Service, call.Method)
		}
	}
	id, err := c.ids.Next()
	if err != nil {
		return nil, err
	}
	return &protocol.Request{
		ID:            id,
		Kind:          protocol.KindCall,
		SerializeCode: c.serializeCode,
		CompressCode:  c.compressCode,
		Timestamp:     time.Now().UnixNano(),
		Payload: &protocol.RequestPayload{
			InterfaceName: call.Service,
			MethodName:    call.Method,
			ParamTypes:    call.ParamTypes,
			ParamValues:   values,
			ReturnType:    call.ReturnType,
		},
	}, nil
}

// Invoke runs one attempt of call and returns the provider's response.
// A non-successful code is returned as a typed error together with the
// response.
func (c *Client) Invoke(ctx context.Context, call Call) (*protocol.Response, error) {
	if err := c.ensureService(call.Service, call.Group); err != nil {
		return nil, err
	}
	req, err := c.buildRequest(call)
	if err != nil {
		return nil, err
	}
	frame, err := c.codec.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	ep, err := c.balancer.Select(call.Service, call.Group, req.ID)
	if err != nil {
		return nil, err
	}
	breaker := c.breakers.Get(ep)
	if breaker.IsOpen() {
		return nil, rpcerr.New(rpcerr.KindRejected, "circuit breaker for %v is open", ep)
	}

	res, err := c.roundTrip(ctx, ep, req.ID, frame)
	if err != nil {
		breaker.RecordFailure()
		return nil, err
	}
	switch res.Code {
	case protocol.CodeFail, protocol.CodeRateLimited, protocol.CodeNotFound:
		breaker.RecordFailure()
	default:
		breaker.RecordSuccess()
	}
	c.logger.Debugf("%v.%v -> %v answered %v", call.Service, call.Method, ep, res.Code)
	if res.Code == protocol.CodeFail && len(res.Body) > 0 {
		var msg string
		if c.codec.DecodeBody(res, &msg) == nil {
			return res, rpcerr.New(rpcerr.KindRemote, "%v.%v failed on %v: %v",
				call.Service, call.Method, ep, msg).WithCode(byte(res.Code))
		}
	}
	return res, res.Code.Err()
}

func (c *Client) roundTrip(ctx context.Context, ep rpccore.Endpoint, id uint64, frame []byte) (*protocol.Response, error) {
	conn, err := c.conns.get(ctx, ep)
	if err != nil {
		return nil, err
	}
	pc, err := c.pending.Add(id, ep, time.Now().Add(c.callTimeout))
	if err != nil {
		return nil, err
	}
	if err := conn.write(frame); err != nil {
		c.pending.Fail(id, nil)
		c.conns.drop(conn, err)
		return nil, rpcerr.Wrap(err, rpcerr.KindNetwork, "write to %v", ep)
	}
	return c.pending.Wait(ctx, pc)
}

// Endpoints lists endpoints with a cached connection
func (c *Client) Endpoints() []rpccore.Endpoint {
	return c.conns.endpoints()
}

// Ping sends one heartbeat over the cached connection to ep
func (c *Client) Ping(ctx context.Context, ep rpccore.Endpoint) error {
	conn, ok := c.conns.lookup(ep)
	if !ok {
		return rpcerr.New(rpcerr.KindNetwork, "no connection to %v", ep)
	}
	id, err := c.ids.Next()
	if err != nil {
		return err
	}
	frame, err := c.codec.EncodeRequest(&protocol.Request{
		ID:            id,
		Kind:          protocol.KindHeartbeat,
		SerializeCode: c.serializeCode,
		CompressCode:  c.compressCode,
	})
	if err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(heartbeat.DefaultTimeout)
	}
	pc, err := c.pending.Add(id, ep, deadline)
	if err != nil {
		return err
	}
	if err := conn.write(frame); err != nil {
		c.pending.Fail(id, nil)
		return rpcerr.Wrap(err, rpcerr.KindNetwork, "heartbeat to %v", ep)
	}
	res, err := c.pending.Wait(ctx, pc)
	if err != nil {
		return err
	}
	if res.Code != protocol.CodeSuccessHeartbeat {
		return rpcerr.New(rpcerr.KindRemote, "heartbeat to %v answered %v", ep, res.Code)
	}
	return nil
}

// Evict drops the cached connection to ep
func (c *Client) Evict(ep rpccore.Endpoint) {
	c.conns.evict(ep, errEvicted)
	c.health.Remove(ep)
}

// Close stops the detector, cancels watches and closes every connection
func (c *Client) Close() {
	c.detector.Stop()
	c.lock.Lock()
	for key, s := range c.services {
		if s.cancelWatch != nil {
			s.cancelWatch()
		}
		delete(c.services, key)
	}
	c.lock.Unlock()
	c.conns.closeAll()
	c.balancer.Close()
}

// compile time checks
var _ heartbeat.Prober = (*Client)(nil)
