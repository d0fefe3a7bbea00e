package cli

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/mustardtree/portal/pkg/auth"
)

// ErrPasswordMismatch is returned by check-password when the hash does not match
var ErrPasswordMismatch = errors.New("password does not match hash")

func newGenerateCredentialsCommand() *Command {
	return &Command{
		Name:        "generate-credentials",
		Description: "Generate an admin password and its bootstrap environment",
		Flags:       flag.NewFlagSet("generate-credentials", flag.ExitOnError),
		Run:         runGenerateCredentials,
	}
}

func runGenerateCredentials(args []string) error {
	flags := flag.NewFlagSet("generate-credentials", flag.ContinueOnError)
	username := flags.String("username", "admin", "Admin username")
	email := flags.String("email", "", "Admin email")
	length := flags.Int("length", 20, "Generated password length")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if *length < auth.DefaultPasswordPolicy().MinLength {
		return fmt.Errorf("length must be at least %d", auth.DefaultPasswordPolicy().MinLength)
	}

	password, err := auth.GeneratePassword(*length)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	log.WithField("username", *username).Warn("Store the password now, it is not shown again")
	fmt.Fprintf(stdout, "PORTAL_BOOTSTRAP_USERNAME=%s\n", *username)
	if *email != "" {
		fmt.Fprintf(stdout, "PORTAL_BOOTSTRAP_EMAIL=%s\n", *email)
	}
	fmt.Fprintf(stdout, "PORTAL_BOOTSTRAP_PASSWORD_HASH='%s'\n", hash)
	fmt.Fprintf(stdout, "# password: %s\n", password)
	return nil
}

func newHashPasswordCommand() *Command {
	return &Command{
		Name:        "hash-password",
		Description: "Print the bcrypt hash of a password",
		Flags:       flag.NewFlagSet("hash-password", flag.ExitOnError),
		Run:         runHashPassword,
	}
}

func runHashPassword(args []string) error {
	flags := flag.NewFlagSet("hash-password", flag.ContinueOnError)
	password := flags.String("password", "", "Password to hash (read from stdin when empty)")
	skipPolicy := flags.Bool("skip-policy", false, "Hash even if the password is weak")
	minLength := flags.Int("min-length", auth.DefaultPasswordPolicy().MinLength, "Minimum password length")

	if err := flags.Parse(args); err != nil {
		return err
	}

	pw, err := readSecret(*password, "password")
	if err != nil {
		return err
	}

	policy := auth.PasswordPolicy{MinLength: *minLength}
	if problems := policy.Problems(pw); len(problems) > 0 {
		if !*skipPolicy {
			return fmt.Errorf("weak password: %s", strings.Join(problems, "; "))
		}
		log.WithField("problems", len(problems)).Warn("Hashing a password that breaks the policy")
	}

	hash, err := auth.HashPassword(pw)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, hash)
	return nil
}

func newCheckPasswordCommand() *Command {
	return &Command{
		Name:        "check-password",
		Description: "Check a password against a bcrypt hash and the policy",
		Flags:       flag.NewFlagSet("check-password", flag.ExitOnError),
		Run:         runCheckPassword,
	}
}

func runCheckPassword(args []string) error {
	flags := flag.NewFlagSet("check-password", flag.ContinueOnError)
	hash := flags.String("hash", "", "Bcrypt hash to compare against")
	password := flags.String("password", "", "Password to check (read from stdin when empty)")
	minLength := flags.Int("min-length", auth.DefaultPasswordPolicy().MinLength, "Minimum password length")

	if err := flags.Parse(args); err != nil {
		return err
	}

	pw, err := readSecret(*password, "password")
	if err != nil {
		return err
	}

	policy := auth.PasswordPolicy{MinLength: *minLength}
	problems := policy.Problems(pw)
	for _, p := range problems {
		fmt.Fprintf(stdout, "policy: %s\n", p)
	}
	if len(problems) == 0 {
		fmt.Fprintln(stdout, "policy: ok")
	}

	if *hash == "" {
		if len(problems) > 0 {
			return fmt.Errorf("password breaks %d policy rules", len(problems))
		}
		return nil
	}
	if !auth.CheckPassword(pw, *hash) {
		return ErrPasswordMismatch
	}
	fmt.Fprintln(stdout, "hash: match")
	return nil
}
