package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"palaver/internal/auth"
)

func main() {
	userID := flag.String("user", "", "User ID to mint a token for")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "Signing secret (defaults to JWT_SECRET)")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	if *userID == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "Usage: token -user <id> [-secret <secret>] [-ttl <duration>]")
		os.Exit(1)
	}

	token, err := auth.Issue(*secret, *userID, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error issuing token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
