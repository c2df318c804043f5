package functests

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/PwzXxm/nrpc-lite/simulation"
	"github.com/PwzXxm/nrpc-lite/utils"
	"github.com/pkg/errors"
)

const (
	networkDelay        = "nd"
	providerCrash       = "pc"
	providerShutdown    = "ps"
	networkBackToNormal = "nb"
	clientRequest       = "cr"
)

const (
	ndWeight    = 1
	pcWeight    = 1
	psWeight    = 1
	nbWeight    = 1
	crWeight    = 5
	totalWeight = ndWeight + pcWeight + psWeight + nbWeight + crWeight

	complexProviders = 5
)

func getRandomEvent() string {
	weightList := []int{ndWeight, pcWeight, psWeight, nbWeight, crWeight}
	eventList := []string{networkDelay, providerCrash, providerShutdown, networkBackToNormal, clientRequest}
	rd := utils.Random(1, totalWeight)
	sum := 0
	for i, weight := range weightList {
		sum += weight
		if sum >= rd {
			return eventList[i]
		}
	}
	return clientRequest
}

// RunComplex applies random events to a local cluster for the given number
// of minutes while a consumer keeps incrementing a counter, then checks
// that every acknowledged increment was applied exactly once
func RunComplex(minutes int64) error {
	if minutes <= 0 {
		return errors.Errorf("minutes should be positive, but got %v", minutes)
	}
	sl := simulation.RunLocally(complexProviders)
	defer sl.StopAll()
	return complexTest(sl, time.Duration(minutes)*time.Minute)
}

func complexTest(sl *simulation.Local, d time.Duration) error {
	ctx := context.Background()
	ledger := sl.Ledger()
	if err := ledger.Set(ctx, "counter", 0); err != nil {
		return err
	}
	acked, failed := 0, 0
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		alive := sl.Alive()
		switch getRandomEvent() {
		case networkDelay:
			id := alive[rand.Intn(len(alive))]
			delay := utils.RandomTime(0, 300*time.Millisecond)
			_ = sl.SetDelay(id, delay)
			fmt.Printf("Provider %v one way delay: %v\n", id, delay)
		case providerCrash, providerShutdown:
			// keep at least two providers serving
			if len(alive) <= 2 {
				continue
			}
			id := alive[rand.Intn(len(alive))]
			if rand.Intn(2) == 0 {
				_ = sl.KillProvider(id)
				fmt.Print(id, " crashed...\n")
			} else {
				_ = sl.ShutDownProvider(id)
				fmt.Print(id, " shut down...\n")
			}
		case networkBackToNormal:
			for _, id := range alive {
				_ = sl.SetDelay(id, 0)
			}
			fmt.Println("Network back to normal")
		case clientRequest:
			if err := ledger.Incr(ctx, "counter", 1); err != nil {
				failed++
				fmt.Printf("Request failed: %v\n", err)
			} else {
				acked++
			}
			time.Sleep(utils.RandomTime(0, 50*time.Millisecond))
		}
	}
	for _, id := range sl.Alive() {
		_ = sl.SetDelay(id, 0)
	}
	counter, err := ledger.Get(ctx, "counter")
	if err != nil {
		return err
	}
	fmt.Printf("acked: %v, failed: %v, counter: %v\n", acked, failed, counter)
	// a failed request may still have been applied
	if counter < acked || counter > acked+failed {
		return errors.Errorf("counter %v outside [%v, %v]", counter, acked, acked+failed)
	}
	return nil
}
