package main

import (
	"flag"
	"log"

	approuters "Tutorlink/internal/app_routers"
	"Tutorlink/internal/configuration"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	flag.Parse()

	container, err := configuration.BuildContainer(*configPath)
	if err != nil {
		log.Fatalf("Failed to build container: %v", err)
	}

	// Ensure cleanup on shutdown
	defer container.Close()

	approuters.StartServer(container)
}
