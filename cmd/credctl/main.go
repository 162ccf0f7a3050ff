// Command credctl inspects and maintains the bot's stored Google credentials.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/donmunna435-dev/Deep-yt/internal/domain"
	"github.com/donmunna435-dev/Deep-yt/internal/repository"
	"github.com/donmunna435-dev/Deep-yt/pkg/crypto"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

const usage = `Usage: credctl [flags] <command> [args]

Commands:
  list           list users with stored credentials
  show <userId>  show one credential with tokens masked
  delete <userId> remove a user's credential
  seal           encrypt the token file with a passphrase
  open           decrypt the token file

Flags:
`

// promptFunc reads a passphrase from the user.
type promptFunc func(label string) (string, error)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, promptPassphrase))
}

func run(args []string, stdout, stderr io.Writer, prompt promptFunc) int {
	fs := flag.NewFlagSet("credctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	backend := fs.String("backend", envOr("CREDENTIAL_BACKEND", "file"), "Credential backend: file or sqlite")
	path := fs.String("store", "", "Path to the credential store (default <persist>/tokens.json or tokens.db)")
	askPass := fs.Bool("ask", false, "Prompt for the passphrase instead of reading CREDENTIAL_PASSPHRASE")
	showVersion := fs.Bool("version", false, "Show version and exit")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintf(stdout, "credctl %s (built %s)\n", Version, BuildTime)
		return 0
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	if *path == "" {
		name := "tokens.json"
		if *backend == "sqlite" {
			name = "tokens.db"
		}
		*path = strings.TrimRight(envOr("STORAGE_PERSIST_PATH", "./data"), "/") + "/" + name
	}

	passphrase := os.Getenv("CREDENTIAL_PASSPHRASE")
	if *askPass {
		p, err := prompt("Passphrase: ")
		if err != nil {
			fmt.Fprintf(stderr, "Error: read passphrase: %v\n", err)
			return 1
		}
		passphrase = p
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	if err := dispatch(context.Background(), cmd, rest, *backend, *path, passphrase, stdout, prompt); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func dispatch(ctx context.Context, cmd string, args []string, backend, path, passphrase string, out io.Writer, prompt promptFunc) error {
	switch cmd {
	case "seal", "open":
		if backend != "file" {
			return fmt.Errorf("%s only applies to the file backend", cmd)
		}
		if passphrase == "" {
			p, err := prompt("Passphrase: ")
			if err != nil {
				return fmt.Errorf("read passphrase: %w", err)
			}
			passphrase = p
		}
		if passphrase == "" {
			return errors.New("a passphrase is required")
		}
		if cmd == "seal" {
			if err := crypto.SealFile(path, passphrase); err != nil {
				return err
			}
			fmt.Fprintf(out, "Sealed %s\n", path)
			return nil
		}
		if err := crypto.OpenFile(path, passphrase); err != nil {
			return err
		}
		fmt.Fprintf(out, "Opened %s\n", path)
		return nil
	}

	store, closeStore, err := openStore(backend, path, passphrase)
	if err != nil {
		return err
	}
	defer closeStore()

	switch cmd {
	case "list":
		return list(ctx, store, out)
	case "show", "delete":
		if len(args) != 1 {
			return fmt.Errorf("usage: credctl %s <userId>", cmd)
		}
		userID, err := domain.ParseUserID(args[0])
		if err != nil {
			return fmt.Errorf("invalid user id %q", args[0])
		}
		if cmd == "show" {
			return show(ctx, store, userID, out)
		}
		if err := store.Delete(ctx, userID); err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted credential for %s\n", userID)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func openStore(backend, path, passphrase string) (repository.CredentialStore, func(), error) {
	switch backend {
	case "sqlite":
		s, err := repository.NewSQLiteCredentialStore(path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "file":
		s, err := repository.NewFileCredentialStore(path, passphrase)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", backend)
	}
}

func list(ctx context.Context, store repository.CredentialStore, out io.Writer) error {
	ids, err := store.ListUserIDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "No stored credentials.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tSAVED\tEXPIRY\tREFRESHABLE")
	for _, id := range ids {
		c, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%v\n", id, formatTime(c.SavedAt), formatTime(c.Expiry), c.RefreshToken != "")
	}
	return tw.Flush()
}

func show(ctx context.Context, store repository.CredentialStore, userID domain.UserID, out io.Writer) error {
	c, err := store.Get(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "User:          %s\n", c.UserID)
	fmt.Fprintf(out, "Access token:  %s\n", mask(c.AccessToken))
	fmt.Fprintf(out, "Refresh token: %s\n", mask(c.RefreshToken))
	fmt.Fprintf(out, "Token type:    %s\n", c.TokenType)
	fmt.Fprintf(out, "Scope:         %s\n", c.Scope)
	fmt.Fprintf(out, "Expiry:        %s\n", formatTime(c.Expiry))
	fmt.Fprintf(out, "Saved:         %s\n", formatTime(c.SavedAt))
	return nil
}

func mask(token string) string {
	if token == "" {
		return "-"
	}
	if len(token) <= 8 {
		return "****"
	}
	return token[:6] + "..." + fmt.Sprintf("(%d chars)", len(token))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// promptPassphrase reads a passphrase without echo when stdin is a terminal.
func promptPassphrase(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		p, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(p), nil
	}

	reader := bufio.NewReader(os.Stdin)
	p, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(p), nil
}
