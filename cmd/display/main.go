// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/dco_calibrator/internal/app"
	"github.com/relabs-tech/dco_calibrator/internal/config"
)

func main() {
	configPath := flag.String("config", "./dco_config.txt", "path to configuration file")
	flag.Parse()

	log.Println("starting dco-calibrator panel display (MQTT -> SSD1306)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunDisplay(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
