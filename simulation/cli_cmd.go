/*
 * Project: nrpc-lite
 * ---------------------
 * Authors:
 *   Minjian Chen 813534
 *   Shijie Liu   813277
 *   Weizhi Xu    752454
 *   Wenqing Xue  813044
 *   Zijun Chen   813190
 */

package simulation

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/PwzXxm/nrpc-lite/client"
	"github.com/PwzXxm/nrpc-lite/services"
	"github.com/PwzXxm/nrpc-lite/utils"
	"github.com/fatih/color"
	"github.com/pkg/errors"
)

const (
	cmdHello  = "hello"
	cmdSet    = "set"
	cmdIncr   = "incr"
	cmdMove   = "move"
	cmdGet    = "get"
	cmdHealth = "health"
	cmdHelp   = "help"

	cmdID       = "id"
	cmdInfo     = "info"
	cmdShutdown = "shutdown"
	cmdKill     = "kill"
	cmdDelay    = "delay"
	cmdStopAll  = "stopall"
	cmdWait     = "wait"
)

var consumerUsage = map[string]string{
	cmdHello:  "<msg>",
	cmdSet:    "<key> <value>",
	cmdIncr:   "<key> <value>",
	cmdMove:   "<source> <target> <value>",
	cmdGet:    "<key>",
	cmdHealth: "",
	cmdHelp:   "",
}

var localUsage = map[string]string{
	cmdID:       "",
	cmdInfo:     "<provider_id_1> <provider_id_2> ...",
	cmdShutdown: "<provider_id_1> <provider_id_2> ...",
	cmdKill:     "<provider_id_1> <provider_id_2> ...",
	cmdDelay:    "<provider_id> <milliseconds>",
	cmdStopAll:  "",
	cmdWait:     "<seconds>",
}

var (
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	red    = color.New(color.FgHiRed).SprintFunc()
	cyan   = color.New(color.FgHiCyan).SprintFunc()
)

var (
	errInvalidCommand = errors.New("Invalid command")
	errUnhandled      = errors.New("unhandled")
)

// Console runs the consumer commands against the demo services
type Console struct {
	Client  *client.Client
	Greeter *services.GreeterClient
	Ledger  *services.LedgerClient
	Out     io.Writer
	Timeout time.Duration
}

func (c *Console) out() io.Writer {
	if c.Out == nil {
		return os.Stdout
	}
	return c.Out
}

func (c *Console) ctx() (context.Context, context.CancelFunc) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = clientRequestTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}

// Exec runs one consumer command. It returns errUnhandled for commands
// it does not know.
func (c *Console) Exec(cmd []string) error {
	l := len(cmd)
	if l == 0 {
		return errors.New("Command cannot be empty")
	}
	ctx, cancel := c.ctx()
	defer cancel()

	switch cmd[0] {
	case cmdHello:
		if l < 2 {
			return combineErrorUsage(errInvalidCommand, cmd[0], consumerUsage)
		}
		reply, err := c.Greeter.SayHello(ctx, strings.Join(cmd[1:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out(), green(reply))
	case cmdSet, cmdIncr:
		if l != 3 {
			return combineErrorUsage(errInvalidCommand, cmd[0], consumerUsage)
		}
		value, err := strconv.Atoi(cmd[2])
		if err != nil {
			return errors.New("value should be an integer")
		}
		if cmd[0] == cmdSet {
			err = c.Ledger.Set(ctx, cmd[1], value)
		} else {
			err = c.Ledger.Incr(ctx, cmd[1], value)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out(), green("OK"))
	case cmdMove:
		if l != 4 {
			return combineErrorUsage(errInvalidCommand, cmd[0], consumerUsage)
		}
		value, err := strconv.Atoi(cmd[3])
		if err != nil {
			return errors.New("value should be an integer")
		}
		if err = c.Ledger.Move(ctx, cmd[1], cmd[2], value); err != nil {
			return err
		}
		fmt.Fprintln(c.out(), green("OK"))
	case cmdGet:
		if l != 2 {
			return combineErrorUsage(errInvalidCommand, cmd[0], consumerUsage)
		}
		v, err := c.Ledger.Get(ctx, cmd[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out(), "%v = %v\n", cmd[1], cyan(v))
	case cmdHealth:
		if l != 1 {
			return combineErrorUsage(errInvalidCommand, cmd[0], consumerUsage)
		}
		samples := c.Client.Health().Snapshot()
		if len(samples) == 0 {
			fmt.Fprintln(c.out(), yellow("no samples yet"))
		}
		for _, s := range samples {
			fmt.Fprintf(c.out(), "  %v  %v\n", s.Endpoint, s.Latency)
		}
	case cmdHelp:
		utils.PrintUsage(consumerUsage)
	default:
		return errUnhandled
	}
	return nil
}

// ReadCommands feeds every line of r to exec until EOF
func ReadCommands(r io.Reader, exec func([]string) error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		err := exec(strings.Fields(scanner.Text()))
		if err == errUnhandled {
			err = errInvalidCommand
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, red(err))
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "Failed reading stdin: ", err)
	}
}

// StartReadingCMD reads cmd from STDIN until EOF
func (l *Local) StartReadingCMD() {
	console := &Console{Client: l.client, Greeter: l.greeter, Ledger: l.accounts}
	ReadCommands(os.Stdin, func(cmd []string) error {
		return l.exec(console, cmd)
	})
}

func (l *Local) exec(console *Console, cmd []string) error {
	if len(cmd) == 0 {
		return errors.New("Command cannot be empty")
	}
	n := len(cmd)
	switch cmd[0] {
	case cmdID, cmdStopAll:
		if n != 1 {
			return combineErrorUsage(errInvalidCommand, cmd[0], localUsage)
		}
		if cmd[0] == cmdID {
			l.printIDs()
		} else {
			l.StopAll()
		}
	case cmdInfo, cmdShutdown, cmdKill:
		if n < 2 {
			return combineErrorUsage(errInvalidCommand, cmd[0], localUsage)
		}
		ids, err := l.validateProviderIDs(cmd[1:])
		if err != nil {
			return err
		}
		for _, id := range ids {
			switch cmd[0] {
			case cmdInfo:
				l.printProviderInfo(id)
			case cmdShutdown:
				if err := l.ShutDownProvider(id); err != nil {
					return err
				}
			case cmdKill:
				if err := l.KillProvider(id); err != nil {
					return err
				}
			}
		}
	case cmdDelay:
		if n != 3 {
			return combineErrorUsage(errInvalidCommand, cmd[0], localUsage)
		}
		ms, err := strconv.Atoi(cmd[2])
		if err != nil || ms < 0 {
			return errors.New("delay should be a non-negative integer")
		}
		return l.SetDelay(cmd[1], time.Duration(ms)*time.Millisecond)
	case cmdWait:
		if n != 2 {
			return combineErrorUsage(errInvalidCommand, cmd[0], localUsage)
		}
		sec, err := strconv.Atoi(cmd[1])
		if err != nil {
			return err
		}
		l.Wait(sec)
	case cmdHelp:
		utils.PrintUsage(localUsage)
		utils.PrintUsage(consumerUsage)
	default:
		return console.Exec(cmd)
	}
	return nil
}

func combineErrorUsage(e error, cmd string, usage map[string]string) error {
	return errors.New(e.Error() + "\nUsage: " + cmd + " " + usage[cmd])
}

func (l *Local) validateProviderIDs(ids []string) ([]string, error) {
	rst := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := l.providers[id]; !ok {
			return nil, errors.Errorf("Unable to find provider %v in the current list", id)
		}
		rst = append(rst, id)
	}
	return rst, nil
}

func (l *Local) printIDs() {
	fmt.Print("[")
	for i, id := range l.getAllProviderIDs() {
		if i > 0 {
			fmt.Print(" ")
		}
		switch l.state(id) {
		case Up:
			fmt.Print(green(id))
		case Draining:
			fmt.Print(yellow(id))
		default:
			fmt.Print(red(id))
		}
	}
	fmt.Println("]")
}

func (l *Local) printProviderInfo(id string) {
	fmt.Printf("Provider info of [%v]\n", id)
	info := l.getProviderInfo(id)
	for _, k := range []string{"endpoint", "instance", "state", "inflight", "latency"} {
		fmt.Printf("  %v: %v\n", k, info[k])
	}
}
