package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"task-tracker/client"
	"task-tracker/domain"
)

func newRegisterCmd(a *app) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "register <email>",
		Short: "Create an account and log in",
		Args:  positional(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := a.password(password)
			if err != nil {
				return err
			}
			s, err := a.http.Register(cmd.Context(), args[0], pw)
			if err != nil {
				return err
			}
			if err := a.session.Save(s.Token); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			fmt.Fprintf(a.out, "Registered and logged in as %s\n", s.User.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "account password (read from stdin when omitted)")
	return cmd
}

func newLoginCmd(a *app) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Log in and save the session",
		Args:  positional(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := a.password(password)
			if err != nil {
				return err
			}
			s, err := a.http.Login(cmd.Context(), args[0], pw)
			if err != nil {
				return err
			}
			if err := a.session.Save(s.Token); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			fmt.Fprintf(a.out, "Logged in as %s\n", s.User.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "account password (read from stdin when omitted)")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		Args:  positional(cobra.NoArgs),
		RunE: func(*cobra.Command, []string) error {
			if err := a.session.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Logged out")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in account",
		Args:  positional(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := a.http.Me(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, u.Email)
			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks, newest first",
		Args:    positional(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := a.reconciler()
			if err := r.Refresh(cmd.Context(), domain.ParseStatusFilter(status)); err != nil {
				return err
			}
			entries := r.Tasks()
			if len(entries) == 0 {
				fmt.Fprintln(a.out, "No tasks")
				return nil
			}
			for i, e := range entries {
				fmt.Fprintln(a.out, formatTask(i+1, e.Task))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "complete or incomplete")
	return cmd
}

func newAddCmd(a *app) *cobra.Command {
	var description, priority string
	cmd := &cobra.Command{
		Use:   "add <title>...",
		Short: "Add a task",
		Args:  positional(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := a.reconciler()
			t, err := r.Create(cmd.Context(), domain.NewTaskInput{
				Title:       strings.Join(args, " "),
				Description: description,
				Priority:    priority,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Added %q (%s) %s\n", t.Title, t.Priority, t.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "task description")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "Low, Medium or High")
	return cmd
}

func newToggleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "toggle <ref>",
		Aliases: []string{"done"},
		Short:   "Flip a task between complete and incomplete",
		Args:    positional(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := a.reconciler()
			id, err := a.resolve(cmd, r, args[0])
			if err != nil {
				return err
			}
			t, err := r.Toggle(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%q is now %s\n", t.Title, t.Status())
			return nil
		},
	}
}

func newEditCmd(a *app) *cobra.Command {
	var title, description, priority string
	cmd := &cobra.Command{
		Use:   "edit <ref>",
		Short: "Change a task's title, description or priority",
		Args:  positional(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch domain.Patch
			flags := cmd.Flags()
			if flags.Changed("title") {
				patch.Title = &title
			}
			if flags.Changed("description") {
				patch.Description = &description
			}
			if flags.Changed("priority") {
				p, ok, err := domain.ParsePriority(priority)
				if err != nil {
					return err
				}
				if !ok {
					return usageError{msg: "priority cannot be empty"}
				}
				patch.Priority = &p
			}
			if patch.Empty() {
				return usageError{msg: "nothing to change; pass --title, --description or --priority"}
			}

			r := a.reconciler()
			id, err := a.resolve(cmd, r, args[0])
			if err != nil {
				return err
			}
			t, err := r.Edit(cmd.Context(), id, patch)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Updated", formatTask(0, t))
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "new title")
	cmd.Flags().StringVarP(&description, "description", "d", "", "new description")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "Low, Medium or High")
	return cmd
}

func newRmCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "rm <ref>",
		Short: "Delete a task",
		Args:  positional(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := a.reconciler()
			id, err := a.resolve(cmd, r, args[0])
			if err != nil {
				return err
			}
			e, _ := r.Entry(id)
			if !yes {
				fmt.Fprintf(a.out, "Delete %q? [y/N] ", e.Task.Title)
				answer, _ := a.in.ReadString('\n')
				if ans := strings.ToLower(strings.TrimSpace(answer)); ans != "y" && ans != "yes" {
					fmt.Fprintln(a.out, "Aborted")
					return nil
				}
			}
			if err := r.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Deleted %q\n", e.Task.Title)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

// resolve loads the full list and maps ref to a task id. A number picks the
// task at that position of the unfiltered list; anything else is taken as
// an id.
func (a *app) resolve(cmd *cobra.Command, r *client.Reconciler, ref string) (string, error) {
	if err := r.Refresh(cmd.Context(), domain.FilterAll); err != nil {
		return "", err
	}
	if n, err := strconv.Atoi(ref); err == nil {
		entries := r.Tasks()
		if n < 1 || n > len(entries) {
			return "", usageError{msg: fmt.Sprintf("task number out of range: %d", n)}
		}
		return entries[n-1].Task.ID, nil
	}
	if _, ok := r.Entry(ref); !ok {
		return "", domain.ErrNotFound
	}
	return ref, nil
}

func (a *app) password(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	fmt.Fprint(a.errOut, "Password: ")
	line, _ := a.in.ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", usageError{msg: "password is required"}
	}
	return line, nil
}

func formatTask(n int, t domain.Task) string {
	box := "[ ]"
	if t.Completed {
		box = "[x]"
	}
	line := fmt.Sprintf("%s %s (%s)", box, t.Title, t.Priority)
	if n > 0 {
		line = fmt.Sprintf("%2d. %s", n, line)
	}
	return line + "  " + t.ID
}
