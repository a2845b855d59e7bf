package main

import (
	"github.com/joho/godotenv"

	"partitionstore/cmd/pstore/cmd"
)

func main() {
	// load .env file if present
	_ = godotenv.Load(".env")

	cmd.Execute()
}
