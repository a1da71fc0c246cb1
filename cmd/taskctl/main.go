// Command taskctl manages tasks on a task API server from the terminal.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"task-tracker/client"
	"task-tracker/domain"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitAuthError = 2
	exitBackend   = 3
)

const defaultServer = "http://localhost:8080"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// app is the state shared by every command of one invocation.
type app struct {
	server    string
	configDir string

	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer

	session sessionStore
	http    *client.HTTPClient
	notice  *client.Notice
	// ran is set once a command body starts; errors before that are usage errors.
	ran bool
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{in: bufio.NewReader(stdin), out: stdout, errOut: stderr}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return exitSuccess
	}
	msg := err.Error()
	if a.notice != nil && a.notice.Message != "" {
		msg = a.notice.Message
	}
	fmt.Fprintf(stderr, "error: %s\n", msg)
	return a.exitCode(err)
}

func (a *app) exitCode(err error) int {
	var ve *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrInvalidCredentials):
		return exitAuthError
	case client.IsTransient(err):
		return exitBackend
	case errors.As(err, &ve),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, client.ErrNotCached),
		errors.Is(err, client.ErrMutationInFlight):
		return exitUserError
	case !a.ran:
		return exitUserError
	default:
		var ue usageError
		if errors.As(err, &ue) {
			return exitUserError
		}
		return exitBackend
	}
}

// usageError reports bad arguments detected inside a command body.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Manage your tasks from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVar(&a.server, "server", envOr("TASKCTL_SERVER", defaultServer), "task API base URL")
	root.PersistentFlags().StringVar(&a.configDir, "config-dir", "", "directory holding the saved session")

	root.AddCommand(
		newRegisterCmd(a),
		newLoginCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newListCmd(a),
		newAddCmd(a),
		newToggleCmd(a),
		newEditCmd(a),
		newRmCmd(a),
	)
	return root
}

func (a *app) setup() error {
	dir := a.configDir
	if dir == "" {
		dir = defaultConfigDir()
	}
	a.session = sessionStore{dir: dir}

	token := os.Getenv("TASKCTL_TOKEN")
	if token == "" {
		saved, err := a.session.Load()
		if err != nil {
			return err
		}
		token = saved
	}
	a.http = client.NewHTTPClient(a.server, client.WithToken(token))
	a.ran = true
	return nil
}

// reconciler builds a Reconciler whose failure notices replace raw errors
// in the final message.
func (a *app) reconciler() *client.Reconciler {
	return client.NewReconciler(a.http, client.OnError(func(n client.Notice) {
		a.notice = &n
	}))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// positional marks argument count errors as usage errors.
func positional(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return usageError{msg: err.Error()}
		}
		return nil
	}
}
