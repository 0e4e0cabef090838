// Package main — точка входа attention-service (HTTP + WebSocket + gRPC health).
package main

import (
	"log"

	"github.com/psds-microservice/attention-service/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
