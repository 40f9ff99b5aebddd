// Command subctl inspects and drives a user's subscription and notifications
// from the terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"brokerage-client/internal/config"

	"github.com/fatih/color"
)

const usage = `usage: subctl [-token TOKEN] <command> [args]

commands:
  status                      subscription, plan and dunning summary
  plans                       plan catalog
  usage                       usage against plan limits
  dunning                     failed payment events
  retry <event-id>            retry a failed payment
  scheduler [status|start|stop]
  pause [days] | resume | cancel [now]
  notifications               current list and unread count
  tail                        follow notifications live
  events                      follow lifecycle events from NATS
`

func main() {
	token := flag.String("token", os.Getenv("SUBCTL_TOKEN"), "backend access token (default $SUBCTL_TOKEN)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		color.Red("Invalid configuration: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := &cli{cfg: cfg, token: *token}
	if err := cli.run(ctx, args[0], args[1:]); err != nil {
		color.Red("✗ %v", err)
		os.Exit(1)
	}
}
