package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PwzXxm/nrpc-lite/cmdconfig"
	"github.com/PwzXxm/nrpc-lite/pstorage"
	"github.com/PwzXxm/nrpc-lite/registry"
	"github.com/PwzXxm/nrpc-lite/rpccore"
	"github.com/PwzXxm/nrpc-lite/server"
	"github.com/PwzXxm/nrpc-lite/services"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const ledgerFlushInterval = 2 * time.Second

func waitForSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

func StartProviderFromFile(configFilepath string) error {
	var config cmdconfig.ProviderConfig
	if err := cmdconfig.Load(configFilepath, &config); err != nil {
		return err
	}
	unlock, err := cmdconfig.Lock(configFilepath)
	if err != nil {
		return err
	}
	defer unlock()

	// set logger
	logger, closer, err := cmdconfig.NewLogger(config.Log)
	if err != nil {
		return err
	}
	defer closer.Close()
	loggerEntry := logger.WithFields(logrus.Fields{
		"app": config.Application, "side": "provider"})

	reg, err := registry.Open(config.Registry, loggerEntry)
	if err != nil {
		return err
	}
	defer reg.Close()
	if config.Registry == cmdconfig.DefaultRegistry {
		loggerEntry.Warn("Using an in-process registry, consumers in other processes won't find this provider")
	}

	n := rpccore.NewTCPNetwork(config.KeepAlive.Duration)
	sc, err := config.ServerConfig(n, reg)
	if err != nil {
		return err
	}
	s, err := server.New(sc, loggerEntry)
	if err != nil {
		return err
	}

	var ps *pstorage.Hybrid
	for _, name := range config.Services {
		switch name {
		case "greeter":
			err = s.Publish(services.NewGreeter(config.Group))
		case "ledger":
			ledger := services.NewLedger()
			if config.LedgerFile != "" {
				ps = pstorage.NewHybrid(config.LedgerFile, ledgerFlushInterval, nil, loggerEntry)
				if ledger, err = services.NewPersistentLedger(ps); err != nil {
					return err
				}
			}
			err = s.Publish(services.NewLedgerService(config.Group, ledger))
		default:
			err = errors.Errorf("unknown service %q", name)
		}
		if err != nil {
			return err
		}
	}

	if err = s.Start(); err != nil {
		return err
	}
	fmt.Printf("Provider %v serving %v on %v\n", s.ID(), config.Services, s.Endpoint())

	// wait for stop signal
	waitForSignal()

	// start shutdown process
	fmt.Println("Shutting down provider...")
	err = s.Shutdown(context.Background())
	if ps != nil {
		if e := ps.Stop(); err == nil {
			err = e
		}
	}
	return err
}
