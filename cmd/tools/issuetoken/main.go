// Command issuetoken mints an operator access token for the admin API.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/noah-isme/guardrail/internal/auth"
	"github.com/noah-isme/guardrail/internal/config"
)

func main() {
	subject := flag.String("subject", "", "operator identity to embed in the token")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "usage: issuetoken -subject <operator> [-ttl 1h]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	svc, err := auth.NewService(auth.Config{Secret: cfg.JWTSecret, TokenTTL: *ttl})
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialise auth: %v\n", err)
		os.Exit(1)
	}

	token, expires, err := svc.IssueToken(*subject)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s\n", token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expires.Format(time.RFC3339))
}
