package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"officesim/shared"
	"officesim/transport/grpcapi"
)

// GridDTO is the JSON view sent to the browser
type GridDTO struct {
	shared.GridState
	At time.Time `json:"at"`
}

// writeEvent writes one SSE message: an optional event name and a JSON data line
func writeEvent(w io.Writer, event string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}

func sendGridState(ctx context.Context, client *grpcapi.Client, w io.Writer) error {
	gs, err := client.GridState(ctx)
	if err != nil {
		return err
	}
	return writeEvent(w, "", GridDTO{GridState: gs, At: time.Now()})
}

// sseHeaders prepares w for streaming and returns its flusher
func sseHeaders(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return flusher, true
}

func newHandler(client *grpcapi.Client, staticDir string, poll time.Duration) http.Handler {
	mux := http.NewServeMux()

	// SSE endpoint: grid state every poll interval
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := sseHeaders(w)
		if !ok {
			return
		}

		ticker := time.NewTicker(poll)
		defer ticker.Stop()

		// send one immediately
		if err := sendGridState(r.Context(), client, w); err != nil {
			log.Printf("/events initial send error: %v", err)
			return
		}
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				if err := sendGridState(r.Context(), client, w); err != nil {
					log.Printf("/events send error: %v", err)
					return
				}
				flusher.Flush()
			}
		}
	})

	// SSE endpoint: every signal as it happens
	mux.HandleFunc("/signals", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := sseHeaders(w)
		if !ok {
			return
		}
		stream, err := client.WatchSignals(r.Context())
		if err != nil {
			log.Printf("/signals watch error: %v", err)
			return
		}
		flusher.Flush()
		for {
			sig, err := stream.Recv()
			if err != nil {
				if r.Context().Err() == nil {
					log.Printf("/signals receive error: %v", err)
				}
				return
			}
			if err := writeEvent(w, sig.Type, sig); err != nil {
				log.Printf("/signals send error: %v", err)
				return
			}
			flusher.Flush()
		}
	})

	// Static client assets
	absStaticDir, _ := filepath.Abs(staticDir)
	log.Printf("Serving static files from %s", absStaticDir)
	mux.Handle("/", http.FileServer(http.Dir(absStaticDir)))
	return mux
}

func main() {
	addr := flag.String("http", ":8081", "HTTP listen address for visualization server")
	simGRPC := flag.String("grpc", "localhost:9090", "Simulation server gRPC address")
	staticDir := flag.String("static", "./visualization-client", "Directory with static web assets")
	pollMs := flag.Int("poll_ms", 250, "Polling interval in milliseconds for grid updates")
	flag.Parse()

	// Connect to simulation gRPC server
	log.Printf("Connecting to simulation gRPC at %s", *simGRPC)
	client, err := grpcapi.Dial(*simGRPC)
	if err != nil {
		log.Fatalf("Failed to connect to simulation server: %v", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Printf("Error closing gRPC connection: %v", err)
		}
	}()

	handler := newHandler(client, *staticDir, time.Duration(*pollMs)*time.Millisecond)

	// Support automatic free port selection with -http :0
	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("Failed to bind %s: %v", *addr, err)
	}
	log.Printf("Visualization server listening on %s", ln.Addr())
	if err := http.Serve(ln, handler); err != nil {
		log.Fatalf("HTTP server stopped: %v", err)
	}
}
