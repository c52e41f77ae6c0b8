// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/fixtracker/internal/app"
	"github.com/relabs-tech/fixtracker/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to tracker_config.yaml")
	flag.Parse()

	log.Println("starting fixtracker (sources → filter → MQTT/websocket)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunTracker(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
