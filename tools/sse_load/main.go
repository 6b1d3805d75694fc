// Command sse_load opens many subscribers on the cycle report stream and counts delivered reports.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type counters struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	cycles      atomic.Int64
	pings       atomic.Int64
}

func main() {
	var (
		targetURL    string
		connections  int
		testDuration time.Duration
		rampUp       time.Duration
	)

	flag.StringVar(&targetURL, "url", "http://localhost:3000/api/cycles/stream", "cycle stream URL")
	flag.IntVar(&connections, "conns", 200, "number of concurrent subscribers")
	flag.DurationVar(&testDuration, "dur", 60*time.Second, "test duration (0 for until interrupted)")
	flag.DurationVar(&rampUp, "ramp", 0, "spread subscriber starts across this window")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if connections <= 0 {
		logger.Fatal("invalid conns", zap.Int("conns", connections))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if testDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, testDuration)
		defer cancel()
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     connections + 10,
			MaxIdleConnsPerHost: connections + 10,
			DisableCompression:  true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	logger.Info("starting stream load",
		zap.String("url", targetURL),
		zap.Int("conns", connections),
		zap.Duration("duration", testDuration),
		zap.Duration("ramp", rampUp))

	var c counters
	start := time.Now()
	go report(ctx, logger, &c, start)

	var interval time.Duration
	if rampUp > 0 {
		interval = rampUp / time.Duration(connections)
	}

	g := new(errgroup.Group)
	for i := 0; i < connections && ctx.Err() == nil; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
		g.Go(func() error {
			subscribe(ctx, client, targetURL, &c)
			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(start)
	fmt.Printf("done: connected=%d connect_errs=%d stream_errs=%d cycles=%d pings=%d elapsed=%s\n",
		c.connected.Load(), c.connectErrs.Load(), c.streamErrs.Load(), c.cycles.Load(), c.pings.Load(),
		elapsed.Truncate(time.Millisecond))
}

func subscribe(ctx context.Context, client *http.Client, url string, c *counters) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		c.connectErrs.Add(1)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.connectErrs.Add(1)
		return
	}

	c.connected.Add(1)
	if err := consume(resp.Body, c); err != nil && ctx.Err() == nil {
		c.streamErrs.Add(1)
	}
}

// consume counts cycle events and heartbeats until the stream ends.
func consume(r io.Reader, c *counters) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "event: cycle":
			c.cycles.Add(1)
		case strings.HasPrefix(line, ":"):
			c.pings.Add(1)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}

func report(ctx context.Context, logger *zap.Logger, c *counters, start time.Time) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("status",
				zap.Int64("connected", c.connected.Load()),
				zap.Int64("connect_errs", c.connectErrs.Load()),
				zap.Int64("stream_errs", c.streamErrs.Load()),
				zap.Int64("cycles", c.cycles.Load()),
				zap.Duration("elapsed", time.Since(start).Truncate(time.Second)))
		}
	}
}
