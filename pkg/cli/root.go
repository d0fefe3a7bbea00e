package cli

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Output streams, replaced in tests
var (
	stdout io.Writer = os.Stdout
	stdin  io.Reader = os.Stdin
)

// log carries diagnostics to stderr so stdout stays machine readable
var log = newLogger(os.Stderr)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return l
}

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "portal-admin",
		Description: "MustardTree portal administration",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("portal-admin", flag.ExitOnError),
	}

	root.Subcommands["generate-credentials"] = newGenerateCredentialsCommand()
	root.Subcommands["hash-password"] = newHashPasswordCommand()
	root.Subcommands["check-password"] = newCheckPasswordCommand()
	root.Subcommands["validate-policy"] = newValidatePolicyCommand()
	root.Subcommands["run-maintenance"] = newRunMaintenanceCommand()

	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	if args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	fmt.Fprintf(stdout, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(stdout, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(stdout, "  %-22s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// readSecret returns value, or the first line of stdin when value is empty
func readSecret(value, what string) (string, error) {
	if value != "" {
		return value, nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read %s: %w", what, err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("%s is required (flag or stdin)", what)
	}
	return line, nil
}
