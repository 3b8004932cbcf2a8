// Command aesarchive continuously captures one AES67/RTP multicast audio
// stream (or, with --local-capture, a local input device), timestamps it via
// PTP, optionally gates it with a VOX detector, and archives it to rotated
// WAV or Ogg Opus files.
package main

import (
	"fmt"
	"os"

	"aesarchive/internal/config"
	"aesarchive/internal/logging"
	"aesarchive/internal/orchestrator"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logging.New(os.Stderr, "main", logging.ParseLevel(cfg.Verbose, cfg.Quiet))

	orch, err := orchestrator.New(cfg, log)
	if err != nil {
		log.Errorf("startup: %v", err)
		os.Exit(1)
	}

	if err := orch.Run(); err != nil {
		log.Errorf("exited with error: %v", err)
		os.Exit(1)
	}
}
