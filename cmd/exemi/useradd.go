package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/exemi-au/exemi/internal/auth"
	"github.com/exemi-au/exemi/internal/database"
	"github.com/exemi-au/exemi/internal/users"
)

// runUserAdd creates an administrator account. The password is read
// without echo from a terminal, or as one line from a pipe.
func runUserAdd(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath, username string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, cfg)

	password, err := readPassword(stdin, stderr)
	if err != nil {
		return err
	}

	db, err := database.OpenAndMigrate(ctx, cfg.Database.URL, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	issuer, err := auth.NewIssuer(cfg.Auth.SecretKey, cfg.Auth.SessionTTL, cfg.Auth.MagicTTL)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	svc := users.NewService(users.NewStore(db), issuer, logger)

	u, err := svc.CreateAdmin(ctx, username, password)
	if err != nil {
		return fmt.Errorf("create %s: %w", username, err)
	}
	fmt.Fprintf(stdout, "created administrator %s (id %d)\n", u.Username, u.ID)
	return nil
}

func readPassword(stdin io.Reader, prompt io.Writer) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		first, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		fmt.Fprint(prompt, "Repeat password: ")
		second, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		if string(first) != string(second) {
			return "", errors.New("passwords do not match")
		}
		return string(first), nil
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("empty password")
	}
	return password, nil
}
