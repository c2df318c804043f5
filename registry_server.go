package main

import (
	"fmt"

	"github.com/PwzXxm/nrpc-lite/cmdconfig"
	"github.com/PwzXxm/nrpc-lite/pstorage"
	"github.com/PwzXxm/nrpc-lite/registry"
	"github.com/sirupsen/logrus"
)

func StartRegistryFromFile(configFilepath string) error {
	var config cmdconfig.RegistryConfig
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
	loggerEntry := logger.WithFields(logrus.Fields{"side": "registry"})

	ps := pstorage.NewHybrid(config.StorageFile, config.FlushInterval.Duration, nil, loggerEntry)
	s, err := registry.NewServer(config.Listen, ps, loggerEntry)
	if err != nil {
		return err
	}
	if err = s.Start(); err != nil {
		return err
	}
	fmt.Printf("Registry listening on %v, %v services restored\n", config.Listen, len(s.Table()))

	waitForSignal()

	fmt.Println("Shutting down registry...")
	s.Stop()
	return ps.Stop()
}
