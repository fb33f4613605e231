package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/mail"
	"os"
	"strings"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	var name, email, role string
	flag.StringVar(&name, "name", "", "Display name")
	flag.StringVar(&email, "email", "", "Login email")
	flag.StringVar(&role, "role", string(model.RoleCandidate), "candidate or proctor")
	flag.Parse()

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)
	interactive := term.IsTerminal(int(os.Stdin.Fd()))

	if interactive {
		fmt.Println("=== Create New Account ===")
	}
	name = prompt(reader, "Enter Name: ", name)
	if name == "" {
		fail("Name is required")
	}
	email = prompt(reader, "Enter Email: ", email)
	if _, err := mail.ParseAddress(email); err != nil {
		fail("A valid email is required")
	}
	switch model.Role(role) {
	case model.RoleCandidate, model.RoleProctor:
	default:
		fail("Role must be candidate or proctor")
	}

	password, err := readPassword(reader, interactive)
	if err != nil {
		fail("Error reading password")
	}
	if len(password) < 6 {
		fail("Password must be at least 6 characters")
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	account := &model.Candidate{
		Email:        strings.ToLower(email),
		Name:         name,
		Role:         model.Role(role),
		PasswordHash: string(hashedPassword),
	}
	if err := repository.NewCandidateRepository(pool).Create(ctx, account); err != nil {
		log.Fatal().Err(err).Msg("Failed to create account")
	}

	fmt.Printf("\nSuccess! %s '%s' (%s) saved with ID: %d\n", account.Role, account.Name, account.Email, account.ID)
}

// prompt returns current when set, otherwise reads a trimmed line.
func prompt(reader *bufio.Reader, label, current string) string {
	if current != "" {
		return strings.TrimSpace(current)
	}
	fmt.Print(label)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

// readPassword prompts without echo on a terminal and reads a line from piped input.
func readPassword(reader *bufio.Reader, interactive bool) (string, error) {
	if !interactive {
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Print("Enter Password: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	return string(raw), err
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, "Error:", msg)
	os.Exit(1)
}
