// Command loadtest drives the random chat gateway with simulated users. Each
// user connects with a signed token, requests a match, trades a few messages
// with the partner and then ends or skips, for a number of rounds.
//
// Usage:
//
//	loadtest -url ws://localhost:8080/ws -users 200 -rounds 3 -secret $JWT_SECRET
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/whisper/randomchat/internal/auth"
	"github.com/whisper/randomchat/internal/protocol"
)

type options struct {
	url          string
	users        int
	rounds       int
	messages     int
	interval     time.Duration
	ramp         time.Duration
	matchTimeout time.Duration
	skipRatio    float64
}

func main() {
	var (
		opts   options
		secret string
		issuer string
	)
	flag.StringVar(&opts.url, "url", "ws://localhost:8080/ws", "WebSocket server URL")
	flag.IntVar(&opts.users, "users", 100, "Number of simulated users")
	flag.IntVar(&opts.rounds, "rounds", 3, "Matches per user")
	flag.IntVar(&opts.messages, "messages", 3, "Messages each side sends per match")
	flag.DurationVar(&opts.interval, "interval", 2500*time.Millisecond, "Delay between messages")
	flag.DurationVar(&opts.ramp, "ramp", 10*time.Second, "Ramp-up duration for connection creation")
	flag.DurationVar(&opts.matchTimeout, "match-timeout", 30*time.Second, "Timeout waiting for random.matched")
	flag.Float64Var(&opts.skipRatio, "skip", 0.3, "Share of rounds ended with random.next instead of random.end")
	flag.StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "HS256 secret used to sign user tokens")
	flag.StringVar(&issuer, "issuer", os.Getenv("JWT_ISSUER"), "Token issuer")
	flag.Parse()

	if secret == "" {
		fmt.Fprintln(os.Stderr, "a token secret is required: set -secret or JWT_SECRET")
		os.Exit(2)
	}
	signer := auth.NewVerifier(secret, issuer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Random chat test: %d users x %d rounds to %s (messages=%d, interval=%s, skip=%.2f)\n",
		opts.users, opts.rounds, opts.url, opts.messages, opts.interval, opts.skipRatio)

	col := newCollector()
	sent := &sync.Map{} // message text -> send time

	progressDone := make(chan struct{})
	go progress(col, progressDone)

	step := opts.ramp / time.Duration(max(opts.users, 1))
	var wg sync.WaitGroup
	for i := 0; i < opts.users; i++ {
		if ctx.Err() != nil {
			break
		}
		userID := fmt.Sprintf("lt-user-%d", i)
		token, err := signer.Issue(userID, time.Hour)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
			os.Exit(1)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			runUser(ctx, opts, userID, token, col, sent)
		}()
		time.Sleep(step)
	}

	wg.Wait()
	close(progressDone)
	col.report()
}

func progress(col *collector, done <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			conns, matches, msgs, errs := col.snapshot()
			fmt.Printf("  connections: %d  matches: %d  messages: %d  errors: %d\n", conns, matches, msgs, errs)
		case <-done:
			return
		}
	}
}

// runUser plays opts.rounds matches for one user.
func runUser(ctx context.Context, opts options, userID, token string, col *collector, sent *sync.Map) {
	c, err := dial(ctx, opts.url, token)
	if err != nil {
		col.addError()
		return
	}
	defer c.close()

	readyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = c.waitReady(readyCtx)
	cancel()
	if err != nil {
		col.addError()
		return
	}
	col.addConnect(c.ConnectLatency)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	request := protocol.TypeRequestMatch

	for round := 0; round < opts.rounds && ctx.Err() == nil; round++ {
		start := time.Now()
		if err := c.send(request, nil); err != nil {
			col.addError()
			return
		}

		partner, err := awaitMatch(ctx, c, opts.matchTimeout, col)
		if err != nil {
			col.addError()
			return
		}
		col.addMatch(time.Since(start))

		// The side with the smaller connection id closes the round so both
		// ends do not race to end the same pairing.
		closer := c.connID < partner
		ended, err := chat(ctx, c, opts, userID, round, col, sent)
		if err != nil {
			col.addError()
			return
		}

		request = protocol.TypeRequestMatch
		switch {
		case ended:
			// Partner left first. Ask again.
		case closer && rng.Float64() < opts.skipRatio:
			request = protocol.TypeNext
		case closer:
			if err := c.send(protocol.TypeEnd, nil); err != nil {
				col.addError()
				return
			}
			if err := await(ctx, c, protocol.TypeEnded, 10*time.Second, col, sent); err != nil {
				col.addError()
				return
			}
		default:
			if err := await(ctx, c, protocol.TypePartnerDisconnected, opts.matchTimeout, col, sent); err != nil {
				col.addError()
				return
			}
		}
	}
}

// awaitMatch waits for random.matched and returns the partner connection id.
func awaitMatch(ctx context.Context, c *client, timeout time.Duration, col *collector) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		ev, err := c.next(ctx)
		if err != nil {
			return "", err
		}
		switch ev.Type {
		case protocol.TypeMatched:
			var m protocol.MatchedMsg
			if err := json.Unmarshal(ev.Raw, &m); err != nil {
				return "", err
			}
			return m.PartnerID, nil
		case protocol.TypeRateLimited:
			col.addRateLimited()
			return "", fmt.Errorf("rate limited while matching")
		case protocol.TypeRandomError, protocol.TypeBanned:
			return "", fmt.Errorf("server refused match: %s", ev.Raw)
		}
	}
}

// chat exchanges opts.messages messages with the partner. It reports whether
// the partner left during the exchange.
func chat(ctx context.Context, c *client, opts options, userID string, round int, col *collector, sent *sync.Map) (bool, error) {
	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	for n := 0; n < opts.messages; {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
			text := fmt.Sprintf("hello %d.%d from %s", round, n, userID)
			sent.Store(text, time.Now())
			if err := c.send(protocol.TypeMessage, map[string]string{"text": text}); err != nil {
				return false, err
			}
			n++
		case ev, ok := <-c.events:
			if !ok {
				return false, errClosed
			}
			if handle(ev, col, sent) {
				return true, nil
			}
		}
	}
	return false, nil
}

// await drains messages until one of msgType arrives.
func await(ctx context.Context, c *client, msgType string, timeout time.Duration, col *collector, sent *sync.Map) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		ev, err := c.next(ctx)
		if err != nil {
			return err
		}
		if ev.Type == msgType {
			return nil
		}
		handle(ev, col, sent)
	}
}

// handle records a relayed message or a refusal. It reports whether the
// partner is gone.
func handle(ev event, col *collector, sent *sync.Map) bool {
	switch ev.Type {
	case protocol.TypeMessage:
		var m protocol.ServerChatMsg
		if err := json.Unmarshal(ev.Raw, &m); err != nil {
			col.addError()
			return false
		}
		if at, ok := sent.LoadAndDelete(m.Text); ok {
			col.addMessage(ev.At.Sub(at.(time.Time)))
		}
	case protocol.TypeRateLimited:
		col.addRateLimited()
	case protocol.TypeRandomError:
		col.addError()
	case protocol.TypePartnerDisconnected:
		return true
	}
	return false
}
