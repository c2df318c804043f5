package main

import (
	"os"
	"time"

	"github.com/PwzXxm/nrpc-lite/client"
	"github.com/PwzXxm/nrpc-lite/cmdconfig"
	"github.com/PwzXxm/nrpc-lite/registry"
	"github.com/PwzXxm/nrpc-lite/rpccore"
	"github.com/PwzXxm/nrpc-lite/services"
	"github.com/PwzXxm/nrpc-lite/simulation"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
)

// StartConsumerFromFile reads consumer commands from STDIN until EOF
func StartConsumerFromFile(configFilepath string) error {
	var config cmdconfig.ConsumerConfig
	if err := cmdconfig.Load(configFilepath, &config); err != nil {
		return err
	}
	unlock, err := cmdconfig.Lock(configFilepath)
	if err != nil {
		return err
	}
	defer unlock()

	logger, closer, err := cmdconfig.NewLogger(config.Log)
	if err != nil {
		return err
	}
	defer closer.Close()
	loggerEntry := logger.WithFields(logrus.Fields{
		"app": config.Application, "side": "consumer"})

	reg, err := registry.Open(config.Registry, loggerEntry)
	if err != nil {
		return err
	}
	defer reg.Close()

	n := rpccore.NewTCPNetwork(30 * time.Second)
	c, err := client.New(config.ClientConfig(n, reg), loggerEntry)
	if err != nil {
		return err
	}
	defer c.Close()

	retry := config.RetryPolicy()
	console := &simulation.Console{
		Client:  c,
		Greeter: services.NewGreeterClient(c, config.Group, retry),
		Ledger: services.NewLedgerClient(c, config.Group,
			config.Application+"-"+uuid.NewV4().String(), retry),
		Out:     os.Stdout,
		Timeout: config.CallTimeout.Duration * time.Duration(config.Retries+1),
	}
	simulation.ReadCommands(os.Stdin, console.Exec)
	return nil
}
