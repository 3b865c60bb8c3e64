// Command admin is the operator CLI for the timer service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Ftotnem/GO-TIMING/shared/api"
	"github.com/Ftotnem/GO-TIMING/shared/service"
	"github.com/google/uuid"
)

const usage = `usage: admin [-addr URL] <command> [args]

commands:
  reset-course <course>          wipe every record on a course
  reset-player <course> <uuid>   wipe one player's records on a course
  archive <course> <uuid>        show what the last reset removed
  top <course> [n]               show the first n entries (default 10)
  entry <course> <position>      show the entry at one rank
  courses                        list known courses
  delete-course <course>         remove a course (recorded times are kept)
`

func main() {
	log.SetPrefix("[ADMIN] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("admin", flag.ContinueOnError)
	fs.SetOutput(out)
	addr := fs.String("addr", envOr("TIMER_SERVICE_URL", "http://localhost:8083"), "timer service base URL")
	timeout := fs.Duration("timeout", 30*time.Second, "request timeout")
	fs.Usage = func() { fmt.Fprint(out, usage) }
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	client := service.NewTimerClient(*addr)

	switch cmd := rest[0]; cmd {
	case "reset-course":
		if len(rest) != 2 {
			return errors.New("reset-course takes exactly one course")
		}
		res, err := client.ResetCourse(ctx, rest[1])
		if err != nil {
			return fmt.Errorf("reset course %s: %w", rest[1], err)
		}
		fmt.Fprintf(out, "course %s reset (changed: %v)\n", res.Course, res.Changed)
	case "reset-player":
		if len(rest) != 3 {
			return errors.New("reset-player takes a course and a uuid")
		}
		id, err := uuid.Parse(rest[2])
		if err != nil {
			return fmt.Errorf("invalid uuid %q: %w", rest[2], err)
		}
		res, err := client.ResetPlayer(ctx, rest[1], id)
		if err != nil {
			return fmt.Errorf("reset player %s on %s: %w", id, rest[1], err)
		}
		fmt.Fprintf(out, "player %s reset on %s (changed: %v)\n", id, res.Course, res.Changed)
	case "archive":
		if len(rest) != 3 {
			return errors.New("archive takes a course and a uuid")
		}
		id, err := uuid.Parse(rest[2])
		if err != nil {
			return fmt.Errorf("invalid uuid %q: %w", rest[2], err)
		}
		arch, err := client.GetArchive(ctx, rest[1], id)
		if errors.Is(err, api.ErrNotFound) {
			fmt.Fprintf(out, "nothing archived for %s on %s\n", id, rest[1])
			return nil
		}
		if err != nil {
			return fmt.Errorf("archive of %s on %s: %w", id, rest[1], err)
		}
		fmt.Fprintf(out, "finished: %s\nunfinished: %s\n", formatOptional(arch.Finished), formatOptional(arch.Unfinished))
	case "top":
		if len(rest) < 2 || len(rest) > 3 {
			return errors.New("top takes a course and an optional count")
		}
		n := 10
		if len(rest) == 3 {
			v, err := strconv.Atoi(rest[2])
			if err != nil || v < 1 {
				return fmt.Errorf("invalid count %q", rest[2])
			}
			n = v
		}
		lb, err := client.GetLeaderboard(ctx, rest[1])
		if err != nil {
			return fmt.Errorf("leaderboard of %s: %w", rest[1], err)
		}
		if len(lb.Entries) == 0 {
			fmt.Fprintf(out, "no entries on %s\n", lb.Course)
			return nil
		}
		for i, e := range lb.Entries {
			if i == n {
				break
			}
			fmt.Fprintf(out, "%3d. %-16s %s\n", e.Rank, displayName(e), e.Duration.Formatted)
		}
	case "entry":
		if len(rest) != 3 {
			return errors.New("entry takes a course and a position")
		}
		pos, err := strconv.Atoi(rest[2])
		if err != nil || pos < 1 {
			return fmt.Errorf("invalid position %q", rest[2])
		}
		e, err := client.GetTopEntry(ctx, rest[1], pos)
		if errors.Is(err, api.ErrNotFound) {
			fmt.Fprintf(out, "no entry at position %d on %s\n", pos, rest[1])
			return nil
		}
		if err != nil {
			return fmt.Errorf("entry %d of %s: %w", pos, rest[1], err)
		}
		fmt.Fprintf(out, "%3d. %-16s %s\n", e.Rank, displayName(e), e.Duration.Formatted)
	case "courses":
		courses, err := client.ListCourses(ctx)
		if err != nil {
			return fmt.Errorf("list courses: %w", err)
		}
		for _, c := range courses {
			state := "configured"
			if !c.Configured {
				state = "incomplete"
			}
			fmt.Fprintf(out, "%-20s %-20s %s\n", c.Key, c.Name, state)
		}
	case "delete-course":
		if len(rest) != 2 {
			return errors.New("delete-course takes exactly one course")
		}
		err := client.DeleteCourse(ctx, rest[1])
		if errors.Is(err, api.ErrNotFound) {
			fmt.Fprintf(out, "course %s not found\n", rest[1])
			return nil
		}
		if err != nil {
			return fmt.Errorf("delete course %s: %w", rest[1], err)
		}
		fmt.Fprintf(out, "course %s deleted\n", rest[1])
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func displayName(e service.Entry) string {
	if e.Name != "" {
		return e.Name
	}
	return e.UUID
}

func formatOptional(d *service.Duration) string {
	if d == nil {
		return "-"
	}
	return d.Formatted
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
