// Command tokengen mints a bearer token for local testing against the Task
// API, standing in for whatever external identity provider signs tokens in
// production.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/taskmesh/taskmesh/internal/auth"
	"github.com/taskmesh/taskmesh/internal/config"
)

func main() {
	userID := flag.String("user", "", "user id to mint a token for")
	ttlMin := flag.Int("ttl", 60, "token lifetime in minutes")
	flag.Parse()

	if err := run(*userID, *ttlMin); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run(userID string, ttlMin int) error {
	cfg, err := config.LoadTokenGenConfig(userID, ttlMin)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	token, err := auth.Mint(cfg.Auth.JWTSigningSecret, cfg.UserID, time.Duration(cfg.TTLMin)*time.Minute)
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}

	fmt.Println(token)
	return nil
}
