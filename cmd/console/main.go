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

	log.Println("starting fixtracker (mock console)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunMockConsole(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
