// Package main implements the ops-key tool: it mints the credential pair
// for the scheduler's manual-trigger endpoint.
//
// It generates a random plaintext key and the bcrypt hash the scheduler
// verifies against. The hash goes into the scheduler's environment as
// OPS_API_KEY_HASH; the plaintext key goes to the operator (and job-runner)
// as OPS_API_KEY and is never stored server-side.
//
// Usage:
//
//	go run ./cmd/tools/ops-key
//	go run ./cmd/tools/ops-key --cost=12
package main

import (
	"flag"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	costFlag := flag.Int("cost", bcrypt.DefaultCost, "bcrypt cost factor")
	flag.Parse()

	key, hash, err := GenerateOpsKey(*costFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OPS_API_KEY=%s\n", key)
	fmt.Printf("OPS_API_KEY_HASH=%s\n", hash)
}
