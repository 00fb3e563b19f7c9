package main

import (
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

// Simulator drives the gated server with benign browsing plus the
// attack shapes the analyzers are tuned for. Client identity is spoofed
// through X-Forwarded-For, which the server trusts from localhost.
type Simulator struct {
	serverURL  string
	client     *http.Client
	normalRate int
}

func NewSimulator(serverURL string) *Simulator {
	return &Simulator{
		serverURL:  serverURL,
		client:     &http.Client{Timeout: 5 * time.Second},
		normalRate: 20,
	}
}

var browserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 14_6 like Mac OS X)",
}

var browsePaths = []string{
	"/api/products", "/api/orders",
}

func randomIP() string {
	return fmt.Sprintf("%d.%d.%d.%d",
		rand.Intn(223)+1, rand.Intn(256), rand.Intn(256), rand.Intn(254)+1)
}

func (s *Simulator) send(method, path, clientIP, userAgent string) {
	req, err := http.NewRequest(method, s.serverURL+path, nil)
	if err != nil {
		return
	}
	req.Header.Set("X-Forwarded-For", clientIP)
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		fmt.Printf("blocked: %s %s from %s\n", method, path, clientIP)
	}
}

// runNormal issues varied browser traffic from rotating addresses.
func (s *Simulator) runNormal() {
	for i := 0; i < s.normalRate; i++ {
		go s.send("GET",
			browsePaths[rand.Intn(len(browsePaths))],
			randomIP(),
			browserAgents[rand.Intn(len(browserAgents))])
	}
}

// runFlood hammers one path from a single address to trip the volume
// analyzer.
func (s *Simulator) runFlood() {
	ip := "203.0.113.66"
	fmt.Println("scenario: volume flood from", ip)
	for i := 0; i < 600; i++ {
		s.send("GET", "/api/products", ip, browserAgents[0])
		time.Sleep(5 * time.Millisecond)
	}
}

// runBot replays identical scripted requests at machine cadence to trip
// the pattern and behavioral analyzers.
func (s *Simulator) runBot() {
	ip := "198.51.100.42"
	fmt.Println("scenario: bot replay from", ip)
	for i := 0; i < 40; i++ {
		s.send("GET", "/api/orders", ip, "python-requests/2.28")
		time.Sleep(10 * time.Millisecond)
	}
}

// runProbe walks sensitive endpoints from rotating addresses.
func (s *Simulator) runProbe() {
	fmt.Println("scenario: endpoint probing")
	targets := []string{"/admin/config", "/.env", "/wp-admin", "/backup"}
	for _, target := range targets {
		s.send("GET", target, randomIP(), "curl/7.68.0")
		time.Sleep(200 * time.Millisecond)
	}
}

// Run cycles through the attack scenarios over a bed of normal traffic.
func (s *Simulator) Run() {
	fmt.Println("traffic simulator started against", s.serverURL)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	scenarioTicker := time.NewTicker(30 * time.Second)
	defer scenarioTicker.Stop()

	scenarios := []func(){s.runFlood, s.runBot, s.runProbe}
	next := 0

	go scenarios[next]()

	for {
		select {
		case <-ticker.C:
			s.runNormal()
		case <-scenarioTicker.C:
			next = (next + 1) % len(scenarios)
			go scenarios[next]()
		}
	}
}

func main() {
	serverURL := flag.String("server", "http://localhost:8888", "gate server base URL")
	flag.Parse()

	NewSimulator(*serverURL).Run()
}
