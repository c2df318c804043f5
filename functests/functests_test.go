package functests

import (
	"testing"
	"time"

	"github.com/PwzXxm/nrpc-lite/simulation"
)

func TestCases(t *testing.T) {
	for i, c := range testCases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			if err := runCase(c); err != nil {
				t.Errorf("case %v: %+v", i+1, err)
			}
		})
	}
}

func TestRunInvalid(t *testing.T) {
	if err := Run(0); err == nil {
		t.Error("case 0 should not exist")
	}
	if err := Run(len(testCases) + 1); err == nil {
		t.Error("case out of range should not exist")
	}
}

func TestComplexShort(t *testing.T) {
	if testing.Short() {
		t.Skip("random events take a few seconds")
	}
	sl := simulation.RunLocally(complexProviders)
	defer sl.StopAll()
	if err := complexTest(sl, 3*time.Second); err != nil {
		t.Error(err)
	}
}

func TestRandomEvent(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		seen[getRandomEvent()] = true
	}
	for _, e := range []string{networkDelay, providerCrash, providerShutdown, networkBackToNormal, clientRequest} {
		if !seen[e] {
			t.Errorf("event %v never drawn", e)
		}
	}
}
