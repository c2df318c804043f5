package functests

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
)

type testCase struct {
	name   string
	action func() error
}

var testCases = []testCase{
	{
		name:   "hello round trip across providers",
		action: caseHelloRoundTrip,
	},
	{
		name:   "failover after a provider crash",
		action: caseFailover,
	},
	{
		name:   "graceful shutdown under load",
		action: caseShutdownUnderLoad,
	},
	{
		name:   "ledger updates survive retries",
		action: caseLedgerUpdates,
	},
	{
		name:   "per caller rate limit",
		action: caseRateLimit,
	},
	{
		name:   "heartbeat evicts a slow provider",
		action: caseHeartbeatEviction,
	},
}

func List() {
	for i, c := range testCases {
		fmt.Printf("%2d: %v\n", i+1, c.name)
	}
}

func Count() {
	fmt.Printf("%v\n", len(testCases))
}

// Run executes case n (1-based) and prints its outcome
func Run(n int) error {
	if n <= 0 || n > len(testCases) {
		return errors.New("Please provide a valid test case id.")
	}
	c := testCases[n-1]
	fmt.Printf("--------------------\n")
	fmt.Printf("running test %2d: %v\n", n, c.name)
	fmt.Printf("--------------------\n")
	start := time.Now()
	err := runCase(c)
	fmt.Printf("\n--------------------\n")
	if err == nil {
		color.HiGreen("SUCCESS")
	} else {
		color.HiRed("FAIL: %v", err)
	}
	fmt.Printf("Time used: %.2fs\n", time.Since(start).Seconds())
	fmt.Printf("--------------------\n")
	return err
}

// runCase turns a panic from a cluster that failed to start into an error
func runCase(c testCase) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("%v panicked: %v", c.name, r)
		}
	}()
	return c.action()
}
