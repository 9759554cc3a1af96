package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Extractor produces a database export at target
type Extractor interface {
	Dump(ctx context.Context, target string) error
}

// Connection describes the source database
type Connection struct {
	Name     string
	Host     string
	Port     int
	Username string
	Password string
}

// pgDumpCandidates are tried when no pg_dump command is configured
var pgDumpCandidates = []string{"/usr/bin/pg_dump", "/usr/local/bin/pg_dump"}

// ErrPgDumpNotFound is returned when no usable pg_dump executable exists
var ErrPgDumpNotFound = errors.New("failed to find appropriate pg_dump executable")

// PgDumpExtractor exports a PostgreSQL database with pg_dump in directory
// format
type PgDumpExtractor struct {
	Command    string
	ExtraArgs  []string
	Jobs       int
	Connection Connection
	logger     *zap.Logger
}

// NewPgDumpExtractor creates an extractor; an empty command is resolved from
// PATH and the usual install locations
func NewPgDumpExtractor(command string, extraArgs []string, jobs int, conn Connection, logger *zap.Logger) *PgDumpExtractor {
	if jobs < 1 {
		jobs = 1
	}
	return &PgDumpExtractor{
		Command:    command,
		ExtraArgs:  extraArgs,
		Jobs:       jobs,
		Connection: conn,
		logger:     logger,
	}
}

func (e *PgDumpExtractor) resolveCommand() (string, error) {
	if e.Command != "" {
		return exec.LookPath(e.Command)
	}
	if p, err := exec.LookPath("pg_dump"); err == nil {
		return p, nil
	}
	for _, p := range pgDumpCandidates {
		if info, err := os.Stat(p); err == nil && info.Mode()&0o111 != 0 {
			return p, nil
		}
	}
	return "", ErrPgDumpNotFound
}

// Args returns the pg_dump arguments for target
func (e *PgDumpExtractor) Args(target string) []string {
	args := []string{
		"--no-owner",
		"--no-acl",
		"--compress=9",
		"--format=directory",
		"--jobs", strconv.Itoa(e.Jobs),
		"--file", target,
	}
	if e.Connection.Name != "" {
		args = append(args, "--dbname", e.Connection.Name)
	}
	if e.Connection.Host != "" {
		args = append(args, "--host", e.Connection.Host)
	}
	if e.Connection.Port != 0 {
		args = append(args, "--port", strconv.Itoa(e.Connection.Port))
	}
	if e.Connection.Username != "" {
		args = append(args, "--username", e.Connection.Username)
	}
	return append(args, e.ExtraArgs...)
}

// Dump runs pg_dump and waits for it to exit
func (e *PgDumpExtractor) Dump(ctx context.Context, target string) error {
	command, err := e.resolveCommand()
	if err != nil {
		return err
	}

	args := e.Args(target)
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+e.Connection.Password)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	e.logger.Info("Starting database dump",
		zap.String("command", command),
		zap.String("target", target),
	)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("pg_dump process exited with non-zero status: %d", exitErr.ExitCode())
		}
		return fmt.Errorf("failed to start pg_dump process with commandline: %s %s: %w",
			command, strings.Join(args, " "), err)
	}
	return nil
}
