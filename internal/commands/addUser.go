package commands

import (
	"fmt"

	"palaver/internal/auth"
	"palaver/internal/config"
	"palaver/internal/models"
	"palaver/internal/storage"

	"github.com/google/uuid"
)

// AddUser seeds a user record and prints a signed development token.
// Real user records arrive from the auth service; this exists for local
// setups and demos.
func AddUser(username string, cfg *config.Config) error {
	store, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	user := models.User{
		ID:       uuid.NewString(),
		Username: username,
	}
	if err := store.UpsertUser(user); err != nil {
		return fmt.Errorf("failed to store user: %w", err)
	}

	token, err := auth.Issue(cfg.JWTSecret, user.ID, cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Printf("\nUser Created Successfully!\n")
	fmt.Printf("  ID:       %s\n", user.ID)
	fmt.Printf("  Username: %s\n", user.Username)
	fmt.Printf("  Token:    %s\n", token)

	return nil
}
