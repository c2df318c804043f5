package registry

import (
	"sync"

	"github.com/PwzXxm/nrpc-lite/rpccore"
	"github.com/PwzXxm/nrpc-lite/utils"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

const (
	redisKeyPrefix = "nrpc:"
	// every change publishes the changed service/group key here
	redisChangeChannel = "nrpc:changes"
)

// Redis keeps one set per service/group and announces changes over
// pub/sub
type Redis struct {
	client *redis.Client
	logger *logrus.Entry

	lock    deadlock.Mutex
	pubsubs []*redis.PubSub
}

func NewRedis(addr string, logger *logrus.Entry) (*Redis, error) {
	logger = utils.OrNop(logger)
	c := redis.NewClient(&redis.Options{Addr: addr})
	if err := c.Ping().Err(); err != nil {
		_ = c.Close()
		return nil, errors.Wrapf(err, "connect redis at %v", addr)
	}
	return &Redis{client: c, logger: logger}, nil
}

func redisKey(service, group string) string {
	return redisKeyPrefix + Key(service, group)
}

func (r *Redis) Register(service, group string, ep rpccore.Endpoint) error {
	added, err := r.client.SAdd(redisKey(service, group), ep.String()).Result()
	if err != nil {
		return errors.WithStack(err)
	}
	if added > 0 {
		return errors.WithStack(r.client.Publish(redisChangeChannel, Key(service, group)).Err())
	}
	return nil
}

func (r *Redis) Deregister(service, group string, ep rpccore.Endpoint) error {
	removed, err := r.client.SRem(redisKey(service, group), ep.String()).Result()
	if err != nil {
		return errors.WithStack(err)
	}
	if removed > 0 {
		return errors.WithStack(r.client.Publish(redisChangeChannel, Key(service, group)).Err())
	}
	return nil
}

func (r *Redis) Lookup(service, group string) ([]rpccore.Endpoint, error) {
	members, err := r.client.SMembers(redisKey(service, group)).Result()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	eps := make([]rpccore.Endpoint, 0, len(members))
	for _, m := range members {
		ep, err := rpccore.ParseEndpoint(m)
		if err != nil {
			r.logger.Warnf("Skipping malformed endpoint %q in %v", m, Key(service, group))
			continue
		}
		eps = append(eps, ep)
	}
	rpccore.SortEndpoints(eps)
	return eps, nil
}

func (r *Redis) Watch(service, group string, onChange func([]rpccore.Endpoint)) (func(), error) {
	ps := r.client.Subscribe(redisChangeChannel)
	// wait for the subscription to be confirmed
	if _, err := ps.Receive(); err != nil {
		_ = ps.Close()
		return nil, errors.WithStack(err)
	}
	r.lock.Lock()
	r.pubsubs = append(r.pubsubs, ps)
	r.lock.Unlock()

	key := Key(service, group)
	go func() {
		for msg := range ps.Channel() {
			if msg.Payload != key {
				continue
			}
			eps, err := r.Lookup(service, group)
			if err != nil {
				r.logger.Warnf("Lookup after change of %v failed: %v", key, err)
				continue
			}
			onChange(eps)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { _ = ps.Close() })
	}, nil
}

func (r *Redis) Close() error {
	r.lock.Lock()
	for _, ps := range r.pubsubs {
		_ = ps.Close()
	}
	r.pubsubs = nil
	r.lock.Unlock()
	return errors.WithStack(r.client.Close())
}
