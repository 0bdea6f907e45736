// Command coordinator runs the DFS metadata server. Flag parsing here is
// the out-of-scope "command-line entry point" the core spec treats as an
// external collaborator; it exists only to assemble a config.Coordinator
// and hand off to the coordinator package.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/theritikchoure/logx"

	"github.com/distfs/distfs/config"
	"github.com/distfs/distfs/coordinator"
)

func main() {
	cfg := config.DefaultCoordinatorConfig()

	listenAddr := flag.String("listen", cfg.ListenAddr, "TCP address to listen on")
	chunkSize := flag.Int64("chunk-size", cfg.ChunkSize, "fixed chunk size in bytes")
	replication := flag.Int("replication", cfg.Replication, "replication factor")
	livenessTimeout := flag.Duration("liveness-timeout", cfg.LivenessTimeout, "worker liveness timeout")
	housekeeperInterval := flag.Duration("housekeeper-interval", cfg.HousekeeperInterval, "housekeeper sweep period")
	flag.Parse()

	cfg.ListenAddr = *listenAddr
	cfg.ChunkSize = *chunkSize
	cfg.Replication = *replication
	cfg.LivenessTimeout = *livenessTimeout
	cfg.HousekeeperInterval = *housekeeperInterval

	if cfg.LivenessTimeout < 3*time.Second {
		logx.Logf("[Coordinator] warning: liveness-timeout %s is suspiciously low", logx.FGYELLOW, logx.BGBLACK, cfg.LivenessTimeout)
	}

	c := coordinator.New(cfg)
	if _, err := c.Start(); err != nil {
		logx.Logf("[Coordinator] fatal: %v", logx.FGRED, logx.BGBLACK, err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logx.Logf("[Coordinator] shutting down", logx.FGYELLOW, logx.BGBLACK)
	c.Shutdown()
}
