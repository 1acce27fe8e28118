package servicetest

import (
	"fmt"
	"io"
	"os/exec"
)

// ExecHandler runs the requested program as a child process wired to the session's connections.
func ExecHandler(s *Session) error {
	if len(s.Command.Args) == 0 {
		return s.Exit(-1)
	}
	cmd := exec.Command(s.Command.Args[0], s.Command.Args[1:]...)
	cmd.Dir = s.Command.WorkingDir
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr

	// The stdin copier is not waited on: the client may keep its stdin open after the program exits.
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("creating stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		s.Stdout.Close()
		s.Stderr.Close()
		if exitErr := s.Exit(127); exitErr != nil {
			return exitErr
		}
		return fmt.Errorf("starting %q: %w", s.Command.Args[0], err)
	}
	go func() {
		defer stdin.Close()
		_, _ = io.Copy(stdin, s.Stdin)
	}()

	// Wait returns the exit status in err, which is not an error of the handler.
	_ = cmd.Wait()
	s.Stdout.Close()
	s.Stderr.Close()

	return s.Exit(int32(cmd.ProcessState.ExitCode()))
}
