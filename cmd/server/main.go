//go:build !js && !wasm

package main

import (
	"flag"
	"log"
	"os"
	"strings"

	"github.com/himanishpuri/SyncDNA/pkg/config"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna"
)

var (
	port           int
	configPath     string
	dataRoot       string
	allowedOrigins string
	logRequests    bool
)

func init() {
	flag.IntVar(&port, "port", 8080, "HTTP server port")
	flag.StringVar(&configPath, "config", os.Getenv("SYNCDNA_CONFIG"), "Path to a syncdna.yaml settings file")
	flag.StringVar(&dataRoot, "data", getEnvOrDefault("SYNCDNA_DATA_ROOT", "."), "Directory session paths must live under")
	flag.StringVar(&allowedOrigins, "origins", "*", "Comma-separated list of allowed CORS origins (use * for all)")
	flag.BoolVar(&logRequests, "log-requests", false, "Log every HTTP request")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	flag.Parse()

	var origins []string
	if allowedOrigins == "*" {
		origins = []string{"*"}
	} else {
		origins = strings.Split(allowedOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
	}

	set, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}

	service, err := syncdna.NewService(syncdna.WithSettings(set))
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}
	defer service.Close()

	cfg := &ServerConfig{
		Port:           port,
		DBPath:         set.DBPath,
		DataRoot:       dataRoot,
		AllowedOrigins: origins,
		LogRequests:    logRequests,
	}

	server := NewServer(service, cfg)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
