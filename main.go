package main

import (
	"github.com/joho/godotenv"

	"goldsynth/internal/cli"
)

func main() {
	// .env is optional; system environment wins when absent.
	_ = godotenv.Load()

	cli.Execute()
}
