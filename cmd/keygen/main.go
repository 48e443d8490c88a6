package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/tjfontaine/polyglot-time-awareness/internal/auth"
)

func main() {
	var apiKey string
	switch len(os.Args) {
	case 1:
		apiKey = "ta-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	case 2:
		apiKey = os.Args[1]
	default:
		fmt.Println("Usage: go run ./cmd/keygen [api-key]")
		fmt.Println("Hashes the given API key, or a newly generated one, for use in config.yaml")
		os.Exit(1)
	}

	keyHash := auth.HashAPIKey(apiKey)

	fmt.Printf("API Key: %s\n", apiKey)
	fmt.Printf("SHA-256 Hash: %s\n", keyHash)
	fmt.Println("\nAdd this to your config.yaml:")
	fmt.Printf("server:\n")
	fmt.Printf("  api_keys:\n")
	fmt.Printf("    - key_hash: \"%s\"\n", keyHash)
	fmt.Printf("      description: \"Generated key\"\n")
	fmt.Println("\nSend the key as: Authorization: Bearer <api-key>")
}
