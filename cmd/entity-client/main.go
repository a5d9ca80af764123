package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"officesim/behavior"
	"officesim/config"
	"officesim/shared"
	"officesim/transport/grpcapi"
)

// EntityClient is the behavior layer: it watches the world over gRPC and
// gives every idle agent somewhere to go
type EntityClient struct {
	ServerURL      string
	Picker         behavior.Picker
	Spawn          int
	Social         float64
	PollInterval   time.Duration
	DialOptions    []grpc.DialOption
	reconnectDelay time.Duration
	client         *grpcapi.Client
	rng            *rand.Rand
	mu             sync.Mutex
	pending        map[int]bool
}

// NewEntityClient creates a new entity client
func NewEntityClient(serverURL string, picker behavior.Picker, rng *rand.Rand) *EntityClient {
	return &EntityClient{
		ServerURL:      serverURL,
		Picker:         picker,
		PollInterval:   250 * time.Millisecond,
		reconnectDelay: 5 * time.Second,
		rng:            rng,
		pending:        make(map[int]bool),
	}
}

// Connect establishes a gRPC connection to the simulation server and
// requests the configured number of extra agents
func (e *EntityClient) Connect(ctx context.Context) error {
	log.Printf("Connecting to simulation server at %s", e.ServerURL)

	client, err := grpcapi.Dial(e.ServerURL, e.DialOptions...)
	if err != nil {
		return err
	}

	// Test the connection with a health check
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(hctx); err != nil {
		client.Close()
		return fmt.Errorf("health check failed: %w", err)
	}
	e.client = client

	for i := 0; i < e.Spawn; i++ {
		id, err := client.SpawnAgent(hctx)
		if err != nil {
			log.Printf("Failed to spawn agent: %v", err)
			break
		}
		log.Printf("Successfully registered as agent %d", id)
	}
	e.Spawn = 0
	return nil
}

// Run polls until ctx is done, reconnecting whenever the server goes away
func (e *EntityClient) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if e.client == nil {
			if err := e.Connect(ctx); err != nil {
				log.Printf("Failed to connect: %v. Retrying in %v", err, e.reconnectDelay)
				if !sleep(ctx, e.reconnectDelay) {
					return
				}
				continue
			}
		}

		err := e.pollLoop(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Printf("Connection error: %v. Reconnecting...", err)
		e.client.Close()
		e.client = nil
		if !sleep(ctx, e.reconnectDelay) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (e *EntityClient) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := e.poll(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// poll fetches the grid state once and starts a decision for every agent
// that has arrived. It waits for the decisions and returns how many
// destinations were set.
func (e *EntityClient) poll(ctx context.Context) (int, error) {
	gs, err := e.client.GridState(ctx)
	if err != nil {
		return 0, err
	}

	var (
		wg     sync.WaitGroup
		countM sync.Mutex
		count  int
	)
	for _, a := range gs.Agents {
		if !a.Arrived() || !e.claim(a.ID) {
			continue
		}
		wg.Add(1)
		go func(agent shared.AgentState) {
			defer wg.Done()
			defer e.release(agent.ID)
			if e.decide(ctx, agent, gs) {
				countM.Lock()
				count++
				countM.Unlock()
			}
		}(a)
	}
	wg.Wait()
	return count, nil
}

func (e *EntityClient) claim(id int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending[id] {
		return false
	}
	e.pending[id] = true
	return true
}

func (e *EntityClient) release(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, id)
}

// pickSocial chooses another agent to walk up to, or 0
func (e *EntityClient) pickSocial(self int, gs shared.GridState) int {
	if e.Social <= 0 || len(gs.Agents) < 2 {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rng.Float64() >= e.Social {
		return 0
	}
	other := gs.Agents[e.rng.Intn(len(gs.Agents))]
	if other.ID == self {
		return 0
	}
	return other.ID
}

// decide gives one agent a destination
func (e *EntityClient) decide(ctx context.Context, agent shared.AgentState, gs shared.GridState) bool {
	if target := e.pickSocial(agent.ID, gs); target != 0 {
		done, err := e.client.Approach(ctx, agent.ID, target)
		switch {
		case err != nil:
			log.Printf("Agent %d could not approach agent %d: %v", agent.ID, target, err)
		case !done:
			log.Printf("Agent %d walking over to agent %d", agent.ID, target)
			return true
		}
	}

	dest, err := e.Picker.Pick(ctx, behavior.Request{AgentID: agent.ID, State: gs})
	if err != nil {
		log.Printf("Agent %d has no destination: %v", agent.ID, err)
		return false
	}
	if err := e.client.SetDestination(ctx, agent.ID, dest); err != nil {
		log.Printf("Agent %d rejected destination %v: %v", agent.ID, dest, err)
		return false
	}
	log.Printf("Agent %d heading from %v to %v", agent.ID, agent.Position, dest)
	return true
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", config.DefaultPath(), "Path to config.json")
	serverURL := flag.String("server", "localhost:9090", "Simulation server URL (gRPC)")
	behaviorName := flag.String("behavior", "", "Destination picker: random, script or gemini")
	script := flag.String("script", "", "tengo script for the script behavior")
	numEntities := flag.Int("entities", 0, "Number of extra agents to spawn on connect")
	social := flag.Float64("social", 0.2, "Chance that an idle agent walks up to another agent")
	pollMs := flag.Int("poll_ms", 250, "Polling interval in milliseconds")
	flag.Parse()

	if err := config.SaveDefault(*configPath); err != nil {
		log.Printf("Warning: Failed to create default config file: %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *behaviorName != "" {
		cfg.Behavior = *behaviorName
	}
	if *script != "" {
		cfg.BehaviorScript = *script
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	picker, err := behavior.New(ctx, cfg, rand.New(rand.NewSource(rng.Int63())), slog.Default())
	if err != nil {
		log.Fatalf("Failed to create %s picker: %v", cfg.Behavior, err)
	}
	log.Printf("Using %s behavior", cfg.Behavior)

	client := NewEntityClient(*serverURL, picker, rng)
	client.Spawn = *numEntities
	client.Social = *social
	client.PollInterval = time.Duration(*pollMs) * time.Millisecond

	log.Println("Entity client running. Press Ctrl+C to stop.")
	client.Run(ctx)
	if client.client != nil {
		client.client.Close()
	}
	log.Println("Entity client stopped")
}
