// Package server is the provider side: it accepts connections, checks
// the drain state and the per-caller limiter, and dispatches calls to
// the published services.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/PwzXxm/nrpc-lite/protection"
	"github.com/PwzXxm/nrpc-lite/protocol"
	"github.com/PwzXxm/nrpc-lite/registry"
	"github.com/PwzXxm/nrpc-lite/rpccore"
	"github.com/PwzXxm/nrpc-lite/rpcerr"
	"github.com/PwzXxm/nrpc-lite/shutdown"
	"github.com/PwzXxm/nrpc-lite/utils"
	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultLimiterCapacity = 10
	DefaultLimiterRate     = 10
	DefaultLimiterTable    = 4096
)

type Config struct {
	Network rpccore.Network
	// Listen is the local endpoint; port 0 picks one on TCP
	Listen rpccore.Endpoint
	// Advertise overrides the endpoint registered in the registry
	Advertise rpccore.Endpoint
	Registry  registry.Registry
	Codec     *protocol.Codec

	LimiterCapacity int
	LimiterRate     int
	LimiterTable    int
	MaxDrainWait    time.Duration
}

type Server struct {
	config      Config
	id          string
	codec       *protocol.Codec
	limiters    *protection.LimiterTable
	coordinator *shutdown.Coordinator
	logger      *logrus.Entry

	lock      deadlock.RWMutex
	services  map[string]*Service
	published []*Service
	listener  net.Listener
	endpoint  rpccore.Endpoint
	conns     map[net.Conn]struct{}

	acceptDone chan struct{}
	shutOnce   sync.Once
	shutErr    error
	stopped    chan struct{}
}

func New(config Config, logger *logrus.Entry) (*Server, error) {
	if config.Network == nil {
		return nil, errors.New("server needs a network")
	}
	if config.Codec == nil {
		config.Codec = protocol.NewCodec(nil, nil)
	}
	if config.LimiterCapacity <= 0 {
		config.LimiterCapacity = DefaultLimiterCapacity
	}
	if config.LimiterRate <= 0 {
		config.LimiterRate = DefaultLimiterRate
	}
	if config.LimiterTable <= 0 {
		config.LimiterTable = DefaultLimiterTable
	}
	if config.MaxDrainWait <= 0 {
		config.MaxDrainWait = shutdown.DefaultMaxWait
	}
	limiters, err := protection.NewLimiterTable(config.LimiterTable,
		config.LimiterCapacity, config.LimiterRate)
	if err != nil {
		return nil, err
	}
	id := uuid.NewV4().String()
	return &Server{
		config:      config,
		id:          id,
		codec:       config.Codec,
		limiters:    limiters,
		coordinator: shutdown.NewCoordinator(),
		logger:      utils.OrNop(logger).WithField("instance", id[:8]),
		services:    make(map[string]*Service),
		conns:       make(map[net.Conn]struct{}),
		stopped:     make(chan struct{}),
	}, nil
}

func (s *Server) ID() string { return s.id }

func (s *Server) Coordinator() *shutdown.Coordinator { return s.coordinator }

// Endpoint is the registered endpoint, valid after Start
func (s *Server) Endpoint() rpccore.Endpoint {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.endpoint
}

// Publish adds svc to the dispatch table, then registers it when the
// server is already listening (otherwise Start registers it)
func (s *Server) Publish(svc *Service) error {
	s.lock.Lock()
	if _, ok := s.services[svc.name]; ok {
		s.lock.Unlock()
		return errors.Errorf("%v already published", svc.name)
	}
	s.services[svc.name] = svc
	s.published = append(s.published, svc)
	listening := s.listener != nil
	ep := s.endpoint
	s.lock.Unlock()
	if listening {
		return s.register(svc, ep)
	}
	return nil
}

func (s *Server) register(svc *Service, ep rpccore.Endpoint) error {
	if s.config.Registry == nil {
		return nil
	}
	if err := s.config.Registry.Register(svc.name, svc.group, ep); err != nil {
		return errors.Wrapf(err, "register %v", svc.name)
	}
	s.logger.Infof("Published %v (%v) at %v", svc.name, svc.group, ep)
	return nil
}

// Start listens, registers the published services and accepts
// connections in the background
func (s *Server) Start() error {
	l, err := s.config.Network.Listen(s.config.Listen)
	if err != nil {
		return errors.Wrapf(err, "listen on %v", s.config.Listen)
	}
	ep := s.config.Listen
	if ep.Port == 0 {
		if ep, err = rpccore.ListenerEndpoint(l); err != nil {
			_ = l.Close()
			return err
		}
	}
	if s.config.Advertise.Host != "" {
		ep.Host = s.config.Advertise.Host
	}
	if s.config.Advertise.Port != 0 {
		ep.Port = s.config.Advertise.Port
	}

	s.lock.Lock()
	if s.listener != nil {
		s.lock.Unlock()
		_ = l.Close()
		return errors.New("server already started")
	}
	s.listener = l
	s.endpoint = ep
	s.acceptDone = make(chan struct{})
	published := append([]*Service{}, s.published...)
	s.lock.Unlock()

	go s.acceptLoop(l)
	s.logger.Infof("Listening on %v", ep)
	for _, svc := range published {
		if err := s.register(svc, ep); err != nil {
			return err
		}
	}
	return nil
}

// Serve starts the server and blocks until Shutdown completed
func (s *Server) Serve() error {
	if err := s.Start(); err != nil {
		return err
	}
	<-s.stopped
	return nil
}

func (s *Server) acceptLoop(l net.Listener) {
	defer close(s.acceptDone)
	for {
		raw, err := l.Accept()
		if err != nil {
			s.logger.Debugf("Accept loop stopped: %v", err)
			return
		}
		s.lock.Lock()
		s.conns[raw] = struct{}{}
		s.lock.Unlock()
		go s.serveConn(raw)
	}
}

func (s *Server) serveConn(raw net.Conn) {
	defer func() {
		_ = raw.Close()
		s.lock.Lock()
		delete(s.conns, raw)
		s.lock.Unlock()
	}()
	caller := rpccore.CallerKey(raw.RemoteAddr())
	logger := s.logger.WithField("caller", caller)
	var writeLock deadlock.Mutex
	reply := func(res *protocol.Response) {
		frame, err := s.codec.EncodeResponse(res)
		if err != nil {
			logger.Warnf("Unable to encode response %v: %v", res.RequestID, err)
			frame, err = s.codec.EncodeResponse(&protocol.Response{
				RequestID: res.RequestID, Code: protocol.CodeFail,
				SerializeCode: res.SerializeCode, CompressCode: res.CompressCode})
			if err != nil {
				return
			}
		}
		writeLock.Lock()
		defer writeLock.Unlock()
		if _, err := raw.Write(frame); err != nil {
			logger.Debugf("Unable to write response %v: %v", res.RequestID, err)
		}
	}

	for {
		frame, err := protocol.ReadFrame(raw)
		if err != nil {
			logger.Debugf("Connection closed: %v", err)
			return
		}
		req, err := s.codec.DecodeRequest(frame)
		if err != nil {
			if req == nil {
				logger.Warnf("Closing connection after protocol error: %v", err)
				return
			}
			logger.Debugf("Undecodable request %v: %v", req.ID, err)
			go reply(protocol.Reply(req, protocol.CodeFail, nil))
			continue
		}
		go func() {
			res, release := s.handle(req, caller)
			reply(res)
			release()
		}()
	}
}

// handle applies, in order: drain state, heartbeat, rate limit, dispatch.
// release must be called once the response is written.
func (s *Server) handle(req *protocol.Request, caller string) (*protocol.Response, func()) {
	if s.coordinator.Draining() {
		return protocol.Reply(req, protocol.CodeClosing, nil), noop
	}
	if req.Kind == protocol.KindHeartbeat {
		return protocol.Reply(req, protocol.CodeSuccessHeartbeat, nil), noop
	}
	if !s.limiters.Allow(caller) {
		s.logger.Debugf("Rate limited request %v from %v", req.ID, caller)
		return protocol.Reply(req, protocol.CodeRateLimited, nil), noop
	}
	release, ok := s.coordinator.Acquire()
	if !ok {
		return protocol.Reply(req, protocol.CodeClosing, nil), noop
	}
	return s.dispatch(req), release
}

func noop() {}

func (s *Server) dispatch(req *protocol.Request) *protocol.Response {
	p := req.Payload
	if p == nil {
		return protocol.Reply(req, protocol.CodeFail, nil)
	}
	s.lock.RLock()
	svc, ok := s.services[p.InterfaceName]
	s.lock.RUnlock()
	if !ok {
		return protocol.Reply(req, protocol.CodeNotFound, nil)
	}
	h, ok := svc.lookup(p.MethodName, p.ParamTypes)
	if !ok {
		return protocol.Reply(req, protocol.CodeNotFound, nil)
	}
	ser, err := s.codec.Serializers().ByCode(req.SerializeCode)
	if err != nil {
		return protocol.Reply(req, protocol.CodeFail, nil)
	}
	result, err := s.invoke(h, Args{types: p.ParamTypes, values: p.ParamValues, serializer: ser})
	if err != nil {
		s.logger.Debugf("%v.%v failed: %v", p.InterfaceName, p.MethodName, err)
		body, _ := ser.Serialize(err.Error())
		return protocol.Reply(req, protocol.CodeFail, body)
	}
	if result == nil {
		return protocol.Reply(req, protocol.CodeSuccess, nil)
	}
	body, err := ser.Serialize(result)
	if err != nil {
		s.logger.Warnf("Unable to serialize result of %v.%v: %v", p.InterfaceName, p.MethodName, err)
		return protocol.Reply(req, protocol.CodeFail, nil)
	}
	return protocol.Reply(req, protocol.CodeSuccess, body)
}

// invoke turns handler panics into FAIL
func (s *Server) invoke(h Handler, args Args) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = rpcerr.New(rpcerr.KindRemote, "handler panic: %v", r)
		}
	}()
	return h(context.Background(), args)
}

// Shutdown deregisters, drains in-flight calls for at most MaxDrainWait
// and closes the listener and every connection. It returns
// shutdown.ErrDrainTimeout when calls were still running.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutOnce.Do(func() {
		s.shutErr = s.shutdown(ctx)
		close(s.stopped)
	})
	return s.shutErr
}

func (s *Server) shutdown(ctx context.Context) error {
	s.lock.RLock()
	published := append([]*Service{}, s.published...)
	ep := s.endpoint
	listening := s.listener != nil
	s.lock.RUnlock()

	if listening && s.config.Registry != nil {
		for _, svc := range published {
			if err := s.config.Registry.Deregister(svc.name, svc.group, ep); err != nil {
				s.logger.Warnf("Unable to deregister %v: %v", svc.name, err)
			}
		}
	}
	s.coordinator.BeginDrain()
	s.logger.Infof("Draining, %v calls in flight", s.coordinator.InFlight())
	drainErr := s.coordinator.Drain(ctx, s.config.MaxDrainWait)
	if drainErr != nil {
		s.logger.Warnf("Drain finished with %v calls in flight: %v", s.coordinator.InFlight(), drainErr)
	}

	s.lock.RLock()
	l, acceptDone := s.listener, s.acceptDone
	s.lock.RUnlock()
	if l != nil {
		_ = l.Close()
		<-acceptDone
	}
	s.lock.RLock()
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.lock.RUnlock()
	for _, c := range conns {
		_ = c.Close()
	}
	s.logger.Info("Server stopped")
	return drainErr
}

func (s *Server) String() string {
	return fmt.Sprintf("server(%v@%v)", s.id[:8], s.Endpoint())
}
