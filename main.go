package main

import (
	"os"

	"github.com/awnumar/memguard"

	"github.com/uoar/pass-manager/cli"
	logger "github.com/uoar/pass-manager/internal/logging"
	"github.com/uoar/pass-manager/internal/platform"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Wipe locked buffers on interrupt, and on every exit path below.
	memguard.CatchInterrupt()

	if err := platform.DisableCoreDumps(); err != nil {
		logger.Logger{}.Warnf("could not disable core dumps: %v", err)
	}

	code := cli.Execute(version)
	memguard.Purge()
	os.Exit(code)
}
