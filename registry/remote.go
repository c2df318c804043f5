package registry

import (
	"encoding/gob"
	"sync"
	"time"

	"github.com/PwzXxm/nrpc-lite/pstorage"
	"github.com/PwzXxm/nrpc-lite/rpccore"
	"github.com/PwzXxm/nrpc-lite/utils"
	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
	"github.com/valyala/gorpc"
)

const (
	opRegister   = "register"
	opDeregister = "deregister"
	opLookup     = "lookup"

	DefaultPollInterval = time.Second
	defaultCallTimeout  = 3 * time.Second
)

func init() {
	gob.Register(registryReq{})
	gob.Register(registryRes{})

	// ignore all log printed by [gorpc]
	gorpc.SetErrorLogger(func(format string, args ...interface{}) {})
}

type registryReq struct {
	Op       string
	Service  string
	Group    string
	Endpoint rpccore.Endpoint
}

type registryRes struct {
	Endpoints []rpccore.Endpoint
	Err       string
}

// table is what the server persists
type table struct {
	Services map[string][]rpccore.Endpoint
}

// Server is a standalone registry process. Remote talks to it over gorpc.
// The table lives in a Memory registry and is saved to storage after
// every change.
type Server struct {
	memory  *Memory
	storage pstorage.PersistentStorage
	rpc     *gorpc.Server
	logger  *logrus.Entry
	// serializes save calls so the last write is the latest table
	saveLock deadlock.Mutex
}

func NewServer(addr string, storage pstorage.PersistentStorage, logger *logrus.Entry) (*Server, error) {
	logger = utils.OrNop(logger)
	s := &Server{memory: NewMemory(), storage: storage, logger: logger}
	if storage != nil {
		var t table
		ok, err := storage.Load(&t)
		if err != nil {
			return nil, errors.Wrap(err, "load registry table")
		}
		if ok {
			for key, eps := range t.Services {
				service, group := splitKey(key)
				for _, ep := range eps {
					_ = s.memory.Register(service, group, ep)
				}
			}
			logger.Infof("Restored %v service keys from storage", len(t.Services))
		}
	}
	s.rpc = &gorpc.Server{Addr: addr, Handler: s.handle}
	return s, nil
}

func (s *Server) Start() error {
	if err := s.rpc.Start(); err != nil {
		return errors.WithStack(err)
	}
	s.logger.Infof("Registry server listening on %v", s.rpc.Addr)
	return nil
}

func (s *Server) Stop() {
	s.rpc.Stop()
	_ = s.memory.Close()
}

// Table returns a copy of the whole table keyed by service/group
func (s *Server) Table() map[string][]rpccore.Endpoint {
	t := make(map[string][]rpccore.Endpoint)
	for _, key := range s.memory.Keys() {
		service, group := splitKey(key)
		t[key], _ = s.memory.Lookup(service, group)
	}
	return t
}

func (s *Server) handle(clientAddr string, request interface{}) interface{} {
	req, ok := request.(registryReq)
	if !ok {
		return registryRes{Err: "malformed registry request"}
	}
	var err error
	switch req.Op {
	case opRegister:
		err = s.memory.Register(req.Service, req.Group, req.Endpoint)
		s.logger.Infof("%v registered %v under %v", clientAddr, req.Endpoint, Key(req.Service, req.Group))
		s.save()
	case opDeregister:
		err = s.memory.Deregister(req.Service, req.Group, req.Endpoint)
		s.logger.Infof("%v deregistered %v under %v", clientAddr, req.Endpoint, Key(req.Service, req.Group))
		s.save()
	case opLookup:
		eps, err := s.memory.Lookup(req.Service, req.Group)
		if err != nil {
			return registryRes{Err: err.Error()}
		}
		return registryRes{Endpoints: eps}
	default:
		err = errors.Errorf("unknown registry operation %q", req.Op)
	}
	if err != nil {
		return registryRes{Err: err.Error()}
	}
	return registryRes{}
}

func (s *Server) save() {
	if s.storage == nil {
		return
	}
	s.saveLock.Lock()
	defer s.saveLock.Unlock()
	if err := s.storage.Save(table{Services: s.Table()}); err != nil {
		s.logger.Errorf("Unable to save registry table: %+v", err)
	}
}

// Remote is the client side of Server. Watch polls Lookup.
type Remote struct {
	client       *gorpc.Client
	pollInterval time.Duration
	logger       *logrus.Entry

	lock    deadlock.Mutex
	cancels map[int]func()
	nextID  int
}

func NewRemote(addr string, pollInterval time.Duration, logger *logrus.Entry) *Remote {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	logger = utils.OrNop(logger)
	c := &gorpc.Client{Addr: addr, RequestTimeout: defaultCallTimeout}
	c.Start()
	return &Remote{client: c, pollInterval: pollInterval, logger: logger,
		cancels: make(map[int]func())}
}

func (r *Remote) call(req registryReq) (registryRes, error) {
	raw, err := r.client.Call(req)
	if err != nil {
		return registryRes{}, errors.WithStack(err)
	}
	res, ok := raw.(registryRes)
	if !ok {
		return registryRes{}, errors.Errorf("unexpected registry response %T", raw)
	}
	if res.Err != "" {
		return res, errors.New(res.Err)
	}
	return res, nil
}

func (r *Remote) Register(service, group string, ep rpccore.Endpoint) error {
	_, err := r.call(registryReq{Op: opRegister, Service: service, Group: group, Endpoint: ep})
	return err
}

func (r *Remote) Deregister(service, group string, ep rpccore.Endpoint) error {
	_, err := r.call(registryReq{Op: opDeregister, Service: service, Group: group, Endpoint: ep})
	return err
}

func (r *Remote) Lookup(service, group string) ([]rpccore.Endpoint, error) {
	res, err := r.call(registryReq{Op: opLookup, Service: service, Group: group})
	if err != nil {
		return nil, err
	}
	rpccore.SortEndpoints(res.Endpoints)
	return res.Endpoints, nil
}

func (r *Remote) Watch(service, group string, onChange func([]rpccore.Endpoint)) (func(), error) {
	last, err := r.Lookup(service, group)
	if err != nil {
		return nil, err
	}
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(r.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				eps, err := r.Lookup(service, group)
				if err != nil {
					r.logger.Debugf("Registry poll for %v failed: %v", Key(service, group), err)
					continue
				}
				if !sameEndpoints(last, eps) {
					last = eps
					onChange(eps)
				}
			case <-stop:
				return
			}
		}
	}()

	r.lock.Lock()
	id := r.nextID
	r.nextID++
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			r.lock.Lock()
			delete(r.cancels, id)
			r.lock.Unlock()
		})
	}
	r.cancels[id] = cancel
	r.lock.Unlock()
	return cancel, nil
}

func (r *Remote) Close() error {
	r.lock.Lock()
	cancels := make([]func(), 0, len(r.cancels))
	for _, c := range r.cancels {
		cancels = append(cancels, c)
	}
	r.lock.Unlock()
	for _, c := range cancels {
		c()
	}
	r.client.Stop()
	return nil
}
