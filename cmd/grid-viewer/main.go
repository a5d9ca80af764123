package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"

	"officesim/render"
	"officesim/shared"
	"officesim/transport/grpcapi"
)

// poll sends the grid state every interval until ctx is done. Fetch errors
// are reported once per outage.
func poll(ctx context.Context, client *grpcapi.Client, interval time.Duration, out chan<- shared.GridState, errs chan<- error) {
	defer close(out)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failing := false
	for {
		gs, err := client.GridState(ctx)
		switch {
		case err != nil && !failing:
			failing = true
			select {
			case errs <- err:
			default:
			}
		case err == nil:
			failing = false
			select {
			case out <- gs:
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func main() {
	simGRPC := flag.String("grpc", "localhost:9090", "Simulation server gRPC address")
	pollMs := flag.Int("poll_ms", 200, "Polling interval in milliseconds")
	flag.Parse()

	client, err := grpcapi.Dial(*simGRPC)
	if err != nil {
		log.Fatalf("Failed to connect to simulation server: %v", err)
	}
	defer client.Close()

	screen, err := tcell.NewScreen()
	if err != nil {
		log.Fatalf("Failed to create screen: %v", err)
	}
	if err := screen.Init(); err != nil {
		log.Fatalf("Failed to initialize screen: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	states := make(chan shared.GridState, 1)
	errs := make(chan error, 1)
	go poll(ctx, client, time.Duration(*pollMs)*time.Millisecond, states, errs)

	runErr := render.New(screen).Run(ctx, states)
	screen.Fini()

	select {
	case err := <-errs:
		fmt.Fprintf(os.Stderr, "Last poll error: %v\n", err)
	default:
	}
	if runErr != nil && ctx.Err() == nil {
		log.Fatalf("Viewer stopped: %v", runErr)
	}
}
