// ABOUTME: Seed subcommand that creates users from a TOML file
// ABOUTME: Hashes passwords with bcrypt and skips usernames that already exist

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/relayhq/livedesk/internal/auth"
	"github.com/relayhq/livedesk/internal/config"
	"github.com/relayhq/livedesk/internal/store"
)

type seedFile struct {
	Users []seedUser `toml:"users"`
}

type seedUser struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
	Role     string `toml:"role"`
}

// runSeed creates the users listed in a TOML seed file. Existing usernames
// are reported and skipped so the command is safe to re-run.
func runSeed(ctx context.Context) error {
	// Supports both "--file value" and "--file=value" formats
	var filePath string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--file" || arg == "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("--file requires a value")
			}
			filePath = args[i+1]
			i++
		case strings.HasPrefix(arg, "--file="):
			filePath = strings.TrimPrefix(arg, "--file=")
		case strings.HasPrefix(arg, "-f="):
			filePath = strings.TrimPrefix(arg, "-f=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if filePath == "" {
		return fmt.Errorf("--file flag is required")
	}

	var seed seedFile
	if _, err := toml.DecodeFile(filePath, &seed); err != nil {
		return fmt.Errorf("parsing seed file: %w", err)
	}
	if len(seed.Users) == 0 {
		return fmt.Errorf("seed file has no users")
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	created := 0
	for _, u := range seed.Users {
		if u.Username == "" || u.Password == "" {
			return fmt.Errorf("seed user needs both username and password")
		}

		role := store.Role(strings.ToUpper(u.Role))
		if !role.Valid() {
			return fmt.Errorf("user %q: unknown role %q", u.Username, u.Role)
		}

		hash, err := auth.HashPassword(u.Password)
		if err != nil {
			return fmt.Errorf("hashing password for %q: %w", u.Username, err)
		}

		user := &store.User{
			ID:           uuid.New().String(),
			Username:     u.Username,
			Role:         role,
			PasswordHash: hash,
			CreatedAt:    time.Now().UTC(),
		}

		if err := s.CreateUser(ctx, user); err != nil {
			if errors.Is(err, store.ErrDuplicateUser) {
				yellow.Printf("  - %s already exists, skipped\n", u.Username)
				continue
			}
			return fmt.Errorf("creating user %q: %w", u.Username, err)
		}

		green.Printf("  ✓ %s (%s)\n", u.Username, role)
		created++
	}

	fmt.Printf("\n%d user(s) created\n", created)
	return nil
}
