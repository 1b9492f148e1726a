// Package main implements depot-client, a command line tool that talks to a
// node over the binary command protocol.
//
// Usage:
//
//	depot-client [-addr host:port] [-timeout 10s] <command> [args]
//
// Commands:
//
//	list                          print every stored name
//	upload <name> <file>          store a local file ("-" reads stdin)
//	download <name> [out]         write a file to out, or stdout
//	delete <name>                 remove a file
//	search <substring>            print names containing substring
//	members                       print the membership table
//	join <id> <addr> [status]     add or update a member
//	leave <id>                    remove a member
//
// The default address comes from DEPOT_ADDR, falling back to
// 127.0.0.1:7070.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dreamware/depot/internal/client"
	"github.com/dreamware/depot/internal/cluster"
)

// errUsage marks argument mistakes, which exit with status 2.
var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes one command and returns the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("depot-client", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", envOr("DEPOT_ADDR", "127.0.0.1:7070"), "node command address")
	timeout := fs.Duration("timeout", 10*time.Second, "deadline for the whole command")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: depot-client [-addr host:port] [-timeout d] <list|upload|download|delete|search|members|join|leave> [args]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c, err := client.Dial(ctx, *addr, client.Options{})
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer c.Close()

	err = execute(ctx, c, fs.Arg(0), fs.Args()[1:], stdin, stdout)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "%v\n", err)
		return 2
	default:
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
}

func execute(ctx context.Context, c *client.Client, cmd string, args []string, stdin io.Reader, stdout io.Writer) error {
	switch cmd {
	case "list":
		if err := arity(cmd, args, 0, 0); err != nil {
			return err
		}
		names, err := c.List(ctx)
		if err != nil {
			return err
		}
		return printLines(stdout, names)

	case "upload":
		if err := arity(cmd, args, 2, 2); err != nil {
			return err
		}
		data, err := readInput(args[1], stdin)
		if err != nil {
			return err
		}
		if err := c.Upload(ctx, args[0], data); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "ok")
		return nil

	case "download":
		if err := arity(cmd, args, 1, 2); err != nil {
			return err
		}
		data, err := c.Download(ctx, args[0])
		if err != nil {
			return err
		}
		if len(args) == 2 && args[1] != "-" {
			return os.WriteFile(args[1], data, 0o644)
		}
		_, err = stdout.Write(data)
		return err

	case "delete":
		if err := arity(cmd, args, 1, 1); err != nil {
			return err
		}
		if err := c.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "ok")
		return nil

	case "search":
		if err := arity(cmd, args, 1, 1); err != nil {
			return err
		}
		names, err := c.Search(ctx, args[0])
		if err != nil {
			return err
		}
		return printLines(stdout, names)

	case "members":
		if err := arity(cmd, args, 0, 0); err != nil {
			return err
		}
		members, err := c.Members(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tADDR\tSTATUS\tVERSION")
		for _, m := range members {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", m.ID, m.Addr, m.Status, m.Version)
		}
		return tw.Flush()

	case "join":
		if err := arity(cmd, args, 2, 3); err != nil {
			return err
		}
		status := cluster.Active
		if len(args) == 3 {
			s, err := cluster.ParseStatus(args[2])
			if err != nil {
				return fmt.Errorf("%w: %v", errUsage, err)
			}
			status = s
		}
		if err := c.Join(ctx, args[0], args[1], status); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "ok")
		return nil

	case "leave":
		if err := arity(cmd, args, 1, 1); err != nil {
			return err
		}
		if err := c.Leave(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "ok")
		return nil

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func arity(cmd string, args []string, lo, hi int) error {
	if len(args) < lo || len(args) > hi {
		return fmt.Errorf("%w: %s takes %d to %d arguments, got %d", errUsage, cmd, lo, hi, len(args))
	}
	return nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func printLines(w io.Writer, lines []string) error {
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
