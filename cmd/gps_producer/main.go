package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/family_locator/internal/app"
	"github.com/relabs-tech/family_locator/internal/config"
)

func main() {
	configPath := flag.String("config", "locator_config.txt", "path to KEY=VALUE config file")
	flag.Parse()

	log.Println("starting family locator GPS producer (NMEA → MQTT)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunGPSProducer(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
