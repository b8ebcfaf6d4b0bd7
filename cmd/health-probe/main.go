package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/valyala/fasthttp"
)

// health-probe is a lean container health-check client: it GETs the
// relay's liveness and readiness endpoints and exits nonzero on failure.
func main() {
	base := flag.String("url", "http://127.0.0.1:8080", "base URL of the relay")
	timeout := flag.Duration("timeout", 3*time.Second, "per-request timeout")
	ready := flag.Bool("ready", true, "also require /readyz to pass")
	flag.Parse()

	paths := []string{"/healthz"}
	if *ready {
		paths = append(paths, "/readyz")
	}

	for _, p := range paths {
		status, body, err := fasthttp.GetTimeout(nil, *base+p, *timeout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "probe %s: %v\n", p, err)
			os.Exit(1)
		}
		if status != fasthttp.StatusOK {
			fmt.Fprintf(os.Stderr, "probe %s: status %d: %s\n", p, status, body)
			os.Exit(1)
		}
	}
	fmt.Println("ok")
}
