// Command chattoken prints a signed access token for local development.
// The production deployment gets tokens from the external auth service.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"promanchat/internal/auth"
	"promanchat/internal/config"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("chattoken", flag.ContinueOnError)
	fs.SetOutput(stderr)
	userID := fs.String("user", "", "user id to put in the token (required)")
	configPath := fs.String("config", "", "path to a JSON config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		fs.Usage()
		return fmt.Errorf("-user is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	tokens := auth.NewTokenManager(auth.TokenConfig{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.Issuer,
		TTL:    cfg.Auth.TokenTTL,
	})
	token, err := tokens.Issue(*userID)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, token)
	return err
}
