package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/hive-corporation/ctiwatch/internal/adapter/handler"
	"github.com/hive-corporation/ctiwatch/internal/adapter/httpclient"
	"github.com/hive-corporation/ctiwatch/internal/core/domain"
)

func main() {
	targetFile := flag.String("file", "indicators.txt", "Arquivo com um indicador por linha")
	apiURL := flag.String("api", "http://localhost:8080", "ctiwatch REST API base URL")
	token := flag.String("token", os.Getenv("REST_API_AUTH_TOKEN"), "Bearer token for the REST API")
	withReputation := flag.Bool("reputation", false, "Also ask for a reputation verdict on unknown indicators")
	healthOnly := flag.Bool("health", false, "Only query the gRPC health service and exit")
	serverAddr := flag.String("server", "localhost:50051", "gRPC health address")
	flag.Parse()

	if *healthOnly {
		os.Exit(checkHealth(*serverAddr))
	}

	file, err := os.Open(*targetFile)
	if err != nil {
		log.Fatalf("❌ error reading file: %v", err)
	}
	defer file.Close()

	c := &apiClient{
		base:  strings.TrimRight(*apiURL, "/"),
		token: *token,
		http:  httpclient.New(15*time.Second, httpclient.DefaultConfig("cli"), nil),
	}

	fmt.Printf("🔍 checking %s against %s...\n\n", *targetFile, *apiURL)

	scanner := bufio.NewScanner(file)
	threatsFound := 0
	scanned := 0

	for scanner.Scan() {
		value := strings.TrimSpace(scanner.Text())
		if value == "" || strings.HasPrefix(value, "#") {
			continue
		}
		scanned++

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		matches, err := c.exactMatches(ctx, value)
		if err != nil {
			cancel()
			log.Printf("⚠️ error checking %s: %v", value, err)
			continue
		}

		if len(matches) > 0 {
			sources := make([]string, 0, len(matches))
			for _, m := range matches {
				sources = append(sources, m.Source)
			}
			fmt.Printf("🚨 [KNOWN] %s -> %s (%s)\n", value, matches[0].Type, strings.Join(sources, ", "))
			threatsFound++
			cancel()
			continue
		}

		if *withReputation {
			rep, err := c.reputation(ctx, value)
			switch {
			case err != nil:
				log.Printf("⚠️ reputation lookup for %s failed: %v", value, err)
			case rep != nil && (rep.ThreatLevel == domain.ThreatHigh || rep.ThreatLevel == domain.ThreatCritical):
				fmt.Printf("🚨 [REPUTATION] %s -> %s (%d malicious, %d suspicious)\n", value, rep.ThreatLevel, rep.Malicious, rep.Suspicious)
				threatsFound++
				cancel()
				continue
			}
		}
		cancel()
		fmt.Printf("✅ [CLEAN] %s\n", value)
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("❌ error reading %s: %v", *targetFile, err)
	}

	fmt.Println("------------------------------------------------")
	if threatsFound > 0 {
		fmt.Printf("❌ FAIL: %d malicious indicators found.\n", threatsFound)
		os.Exit(1)
	}

	fmt.Printf("✅ SUCCESS: %d indicators checked. No threats found.\n", scanned)
}

func checkHealth(addr string) int {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Printf("❌ error connecting to ctiwatch: %v", err)
		return 2
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: handler.ServiceName})
	if err != nil {
		log.Printf("❌ health check failed: %v", err)
		return 2
	}
	fmt.Printf("%s: %s\n", handler.ServiceName, resp.GetStatus())
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return 1
	}
	return 0
}

type apiClient struct {
	base  string
	token string
	http  httpclient.Doer
}

func (c *apiClient) get(ctx context.Context, path string, params url.Values, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path+"?"+params.Encode(), nil)
	if err != nil {
		return 0, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
}

// exactMatches returns stored records whose value equals value, ignoring case.
func (c *apiClient) exactMatches(ctx context.Context, value string) ([]domain.IOC, error) {
	var body struct {
		Results []domain.IOC `json:"results"`
	}
	status, err := c.get(ctx, "/api/v1/iocs/search", url.Values{"q": {value}, "limit": {"100"}}, &body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("search returned HTTP %d", status)
	}

	var out []domain.IOC
	for _, ioc := range body.Results {
		if strings.EqualFold(ioc.Value, value) {
			out = append(out, ioc)
		}
	}
	return out, nil
}

// reputation returns nil, nil when the provider has never seen value.
func (c *apiClient) reputation(ctx context.Context, value string) (*domain.Reputation, error) {
	var rep domain.Reputation
	status, err := c.get(ctx, "/api/v1/reputation", url.Values{"value": {value}}, &rep)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return &rep, nil
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("reputation returned HTTP %d", status)
	}
}
