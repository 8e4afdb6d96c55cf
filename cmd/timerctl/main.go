package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mescon/InfinityStatus/internal/client"
	"github.com/mescon/InfinityStatus/internal/config"
	"github.com/mescon/InfinityStatus/internal/discovery"
)

func main() {
	serverURL := flag.String("url", "http://localhost:3095", "Server base URL including any base path")
	discover := flag.Duration("discover", 0, "Browse mDNS for servers for this long and connect to the first one found")
	instance := flag.String("instance", "", "With -discover, connect to this instance name")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("timerctl %s\n", config.Version)
		os.Exit(0)
	}

	baseURL := *serverURL
	if *discover > 0 {
		svc, err := findServer(*discover, *instance)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Discovery failed: %v\n", err)
			os.Exit(1)
		}
		baseURL = svc.URL()
		fmt.Printf("Found %q (%s, sync: %s)\n", svc.Instance, svc.Version, svc.SyncMode)
	}

	c := client.New(baseURL)

	// One-shot mode: timerctl start frame
	if flag.NArg() > 0 {
		console := &Console{client: c, out: os.Stdout}
		console.Execute(strings.Join(flag.Args(), " "))
		return
	}

	console, err := NewConsole(c)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	console.Run()
}

func findServer(timeout time.Duration, instance string) (discovery.Service, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	found, err := discovery.Browse(ctx)
	if err != nil {
		return discovery.Service{}, err
	}
	return pickService(found, instance)
}

// pickService returns the named instance, or the first one when name is empty.
func pickService(found []discovery.Service, name string) (discovery.Service, error) {
	for _, svc := range found {
		if name == "" || svc.Instance == name {
			return svc, nil
		}
	}
	if name != "" {
		return discovery.Service{}, fmt.Errorf("instance %q not found among %d servers", name, len(found))
	}
	return discovery.Service{}, fmt.Errorf("no servers found")
}
