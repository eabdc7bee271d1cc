// afkhook is the per-question bridge client invoked by agent hook scripts.
// It reads a hook request as JSON on stdin, submits it to the local daemon,
// blocks on the response file, and prints a structured decision on stdout.
// When the daemon is inactive or unreachable it prints nothing and exits
// zero so the hook chain falls through to local handling.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/afkbridge/afkd/internal/hook"
	"github.com/afkbridge/afkd/internal/protocol"
)

func main() {
	app := &cli.App{
		Name:  "afkhook",
		Usage: "submit a blocking question to the afkd daemon and wait for the remote answer",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "daemon",
				Usage:   "daemon base URL",
				Value:   "http://127.0.0.1:7465",
				EnvVars: []string{"AFKD_URL"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "how long to block before falling back to local handling",
				Value: hook.DefaultTimeout,
			},
			&cli.DurationFlag{
				Name:  "poll",
				Usage: "response file poll interval",
				Value: hook.DefaultPollInterval,
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	raw, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	req, err := protocol.ParseHookRequest(raw)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout")+30*time.Second)
	defer cancel()

	client := hook.NewClient(c.String("daemon"))
	resp, err := client.Submit(ctx, req)
	if err != nil {
		// An unreachable daemon means the user is at the keyboard (or the
		// daemon is down); either way local handling takes over.
		log.Printf("afkhook: daemon unreachable, falling back: %v", err)
		return nil
	}
	if !resp.Wait {
		return nil
	}

	answer, err := hook.WaitForResponse(ctx, resp.ResponsePath, c.Duration("poll"), c.Duration("timeout"))
	if err != nil {
		if errors.Is(err, hook.ErrAbandoned) || errors.Is(err, hook.ErrTimeout) {
			log.Printf("afkhook: %v, falling back", err)
			return nil
		}
		return err
	}

	// Context updates never block and never produce a decision.
	if req.Type == protocol.TypeContextUpdate {
		return nil
	}

	decision := hook.Decide(req.Type, answer)
	return json.NewEncoder(os.Stdout).Encode(decision)
}
