package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

var (
	apiURL    = flag.String("api", "http://localhost:8080", "Battle service base URL")
	numUsers  = flag.Int("users", 4, "Number of runners to enqueue")
	bucket    = flag.Int("bucket", 1, "Distance bucket in km")
	groupSize = flag.Int("group", 2, "Runners per battle")
	speed     = flag.Float64("speed", 3.2, "Mean runner speed in m/s")
	tick      = flag.Duration("tick", 500*time.Millisecond, "Wall time between GPS samples")
	timescale = flag.Float64("timescale", 20, "Simulated seconds per sample")
	matchWait = flag.Duration("match-wait", 2*time.Minute, "Give up waiting for a match after this long")
)

type envelope struct {
	ErrorCode int             `json:"error_code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
}

type queueStatus struct {
	Status   string `json:"status"`
	BattleID string `json:"battle_id"`
}

type ingestOutput struct {
	Finish   string `json:"finish"`
	Position *struct {
		DistanceM float64 `json:"distance_m"`
		Pace      string  `json:"pace"`
		Finished  bool    `json:"finished"`
	} `json:"position"`
}

type result struct {
	UserID     string `json:"user_id"`
	Rank       int    `json:"rank"`
	PrevRating int    `json:"prev_rating"`
	CurrRating int    `json:"curr_rating"`
	Running    struct {
		TotalDistance float64 `json:"total_distance_m"`
		AvgPace       string  `json:"avg_pace"`
		RunStatus     string  `json:"run_status"`
	} `json:"running"`
}

var client = &http.Client{Timeout: 10 * time.Second}

func main() {
	flag.Parse()

	if *numUsers < *groupSize || *groupSize < 2 {
		fmt.Println("Error: --users must be at least --group, and --group at least 2")
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	users := make([]string, *numUsers)
	for i := range users {
		users[i] = "sim-" + uuid.NewString()[:8]
		body := map[string]any{"user_id": users[i], "distance_bucket": *bucket, "group_size": *groupSize}
		if err := call(ctx, http.MethodPost, "/api/v1/matchmaking/queue", body, nil); err != nil {
			fmt.Printf("❌ Failed to enqueue %s: %v\n", users[i], err)
			os.Exit(1)
		}
	}
	fmt.Printf("✅ Enqueued %d runners into pool %d:%d\n", len(users), *bucket, *groupSize)

	battles := waitForMatches(ctx, users)
	if len(battles) == 0 {
		fmt.Println("❌ No battles formed. Is MATCHMAKING_PROCESSOR_ENABLED set?")
		os.Exit(1)
	}

	var wg sync.WaitGroup
	for bID, runners := range battles {
		wg.Go(func() {
			runBattle(ctx, bID, runners)
		})
	}
	wg.Wait()
}

// waitForMatches polls every runner until each has a ticket or the wait runs out.
func waitForMatches(ctx context.Context, users []string) map[string][]string {
	battles := map[string][]string{}
	pending := map[string]bool{}
	for _, u := range users {
		pending[u] = true
	}

	deadline := time.Now().Add(*matchWait)
	for len(pending) > 0 && time.Now().Before(deadline) {
		for u := range pending {
			var st queueStatus
			if err := call(ctx, http.MethodGet, "/api/v1/matchmaking/status/"+u, nil, &st); err != nil {
				fmt.Printf("⚠️  Poll failed for %s: %v\n", u, err)
				continue
			}
			if st.Status == "MATCHED" {
				battles[st.BattleID] = append(battles[st.BattleID], u)
				delete(pending, u)
				fmt.Printf("🎯 %s matched into battle %s\n", u, st.BattleID)
			}
		}

		select {
		case <-ctx.Done():
			return battles
		case <-time.After(500 * time.Millisecond):
		}
	}

	for u := range pending {
		fmt.Printf("👋 %s is still waiting, leaving the queue\n", u)
		_ = call(ctx, http.MethodDelete, "/api/v1/matchmaking/queue/"+u, nil, nil)
	}
	return battles
}

func runBattle(ctx context.Context, bID string, runners []string) {
	for _, u := range runners {
		if err := call(ctx, http.MethodPost, "/api/v1/battles/"+bID+"/ready", map[string]any{"user_id": u, "ready": true}, nil); err != nil {
			fmt.Printf("❌ [%s] %s could not ready up: %v\n", bID[:8], u, err)
			return
		}
	}
	fmt.Printf("🏁 [%s] Started with %v\n", bID[:8], runners)

	target := float64(*bucket) * 1000
	start := time.Now()

	var wg sync.WaitGroup
	for _, u := range runners {
		pace := *speed * (0.85 + rand.Float64()*0.3)
		wg.Go(func() {
			var dist float64
			elapsed := time.Duration(0)
			for dist < target {
				select {
				case <-ctx.Done():
					return
				case <-time.After(*tick):
				}

				elapsed += time.Duration(*timescale * float64(time.Second))
				dist += pace * *timescale
				at := start.Add(elapsed)

				var out ingestOutput
				body := map[string]any{"user_id": u, "distance_m": dist, "recorded_at": at}
				if err := call(ctx, http.MethodPost, "/api/v1/battles/"+bID+"/gps", body, &out); err != nil {
					fmt.Printf("⚠️  [%s] %s sample rejected: %v\n", bID[:8], u, err)
					return
				}
				if out.Position != nil {
					fmt.Printf("   [%s] %s %.0fm pace %s\n", bID[:8], u, out.Position.DistanceM, out.Position.Pace)
				}
				if out.Finish != "" {
					fmt.Printf("✅ [%s] Battle finished: %s\n", bID[:8], out.Finish)
				}
			}
		})
	}
	wg.Wait()

	var results []result
	if err := call(ctx, http.MethodGet, "/api/v1/battles/"+bID+"/results", nil, &results); err != nil {
		fmt.Printf("❌ [%s] Failed to load results: %v\n", bID[:8], err)
		return
	}

	fmt.Printf("\n📊 [%s] Results\n", bID[:8])
	for _, r := range results {
		fmt.Printf("   #%d %-14s %-10s %6.0fm %8s  %d -> %d\n",
			r.Rank, r.UserID, r.Running.RunStatus, r.Running.TotalDistance, r.Running.AvgPace, r.PrevRating, r.CurrRating)
	}
}

func call(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, *apiURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%d %s (code %d)", resp.StatusCode, env.Message, env.ErrorCode)
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}
