// Command demosite serves the fake competitor website used for end-to-end
// runs against the monitoring engine.
// Usage: go run ./cmd/demosite [port]
// Default port: 9999
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/raysh454/spyglass/internal/demosite"
)

func main() {
	port := 9999
	if len(os.Args) > 1 {
		p, err := strconv.Atoi(os.Args[1])
		if err != nil || p < 1 || p > 65535 {
			log.Fatalf("invalid port: %s", os.Args[1])
		}
		port = p
	}

	site := demosite.NewSite()
	addr := fmt.Sprintf(":%d", port)

	fmt.Printf("Demo competitor site on http://localhost%s\n", addr)
	fmt.Printf("Control panel at http://localhost%s/demo/control\n", addr)
	fmt.Println("Flip page versions there, then watch the monitor pick the changes up.")

	if err := http.ListenAndServe(addr, site.Handler()); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
