// Command worker runs a Storage Worker. Flag parsing here is the
// out-of-scope "command-line entry point" the core spec treats as an
// external collaborator; it exists only to assemble a config.Worker and
// hand off to the worker package.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"flag"

	"github.com/theritikchoure/logx"

	"github.com/distfs/distfs/config"
	"github.com/distfs/distfs/worker"
)

func main() {
	cfg := config.DefaultWorkerConfig()

	workerId := flag.String("id", "", "worker id (required)")
	listenAddr := flag.String("listen", ":0", "TCP address to listen on")
	host := flag.String("host", "localhost", "host the worker advertises to clients")
	storageDir := flag.String("storage", "", "local chunk storage directory (required)")
	coordinatorAddr := flag.String("coordinator", cfg.CoordinatorAddr, "coordinator address")
	heartbeatInterval := flag.Duration("heartbeat-interval", cfg.HeartbeatInterval, "heartbeat period")
	flag.Parse()

	if *workerId == "" || *storageDir == "" {
		logx.Logf("[Worker] -id and -storage are required", logx.FGRED, logx.BGBLACK)
		os.Exit(1)
	}

	cfg.WorkerId = *workerId
	cfg.ListenAddr = *listenAddr
	cfg.Host = *host
	cfg.StorageDir = *storageDir
	cfg.CoordinatorAddr = *coordinatorAddr
	cfg.HeartbeatInterval = *heartbeatInterval

	w, err := worker.New(cfg)
	if err != nil {
		logx.Logf("[Worker] fatal: %v", logx.FGRED, logx.BGBLACK, err)
		os.Exit(1)
	}
	if _, err := w.Start(); err != nil {
		logx.Logf("[Worker] fatal: %v", logx.FGRED, logx.BGBLACK, err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logx.Logf("[Worker %s] shutting down", logx.FGYELLOW, logx.BGBLACK, cfg.WorkerId)
	w.Shutdown()
}
