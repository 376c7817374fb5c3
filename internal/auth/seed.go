package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
)

// SeedAdmin creates the first administrator on an empty user table.
//
// The account gets a random password and must change it on first login, so
// the gate confines it to the change-password endpoint until it does. The
// generated password is returned for the caller to show the operator once;
// it is never logged. Returns an empty string if users already exist.
func SeedAdmin(ctx context.Context, userRepo UserRepository, email string, logger *slog.Logger) (string, error) {
	if !IsValidEmail(email) {
		return "", fmt.Errorf("seed admin email %q is invalid", email)
	}

	count, err := userRepo.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}
	if count > 0 {
		logger.Info("users exist, skipping admin seed")
		return "", nil
	}

	// 26 base32 characters, 130 bits.
	password := rand.Text()

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &User{
		Email:                  email,
		DisplayName:            "Administrator",
		PasswordHash:           hash,
		Role:                   RoleAdmin,
		PasswordChangeRequired: true,
	}
	if err := userRepo.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	logger.Warn("seed admin account created",
		"email", admin.Email,
		"user_id", admin.ID,
		"action_required", "log in and change the generated password",
	)

	return password, nil
}
