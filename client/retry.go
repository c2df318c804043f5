package client

import (
	"context"
	"time"

	"github.com/PwzXxm/nrpc-lite/rpcerr"
)

// RetryPolicy of one method. MaxRetries counts the attempts after the
// first one.
type RetryPolicy struct {
	MaxRetries int
	Interval   time.Duration
}

// executeWithRetry runs attempt until it succeeds or the policy is used
// up. Every attempt is a full call with a fresh id and a fresh endpoint.
// Exhausting retries yields one network error wrapping the last failure.
func (c *Client) executeWithRetry(ctx context.Context, policy RetryPolicy, attempt func() error) error {
	var err error
	tries := 0
	for {
		tries++
		if err = attempt(); err == nil {
			return nil
		}
		if !rpcerr.Retryable(err) || tries > policy.MaxRetries {
			break
		}
		c.logger.Debugf("Attempt %v failed, retrying in %v: %v", tries, policy.Interval, err)
		select {
		case <-time.After(policy.Interval):
		case <-ctx.Done():
			return rpcerr.Wrap(ctx.Err(), rpcerr.KindTimeout, "retries abandoned after %v attempts", tries)
		}
	}
	if policy.MaxRetries == 0 || !rpcerr.Retryable(err) {
		return err
	}
	return rpcerr.Wrap(err, rpcerr.KindNetwork, "giving up after %v attempts", tries)
}
