package banner

import (
	"fmt"

	"whisperchat/pkg/config"
)

const banner = `
██╗    ██╗██╗  ██╗██╗███████╗██████╗ ███████╗██████╗  ██████╗██╗  ██╗ █████╗ ████████╗
██║    ██║██║  ██║██║██╔════╝██╔══██╗██╔════╝██╔══██╗██╔════╝██║  ██║██╔══██╗╚══██╔══╝
██║ █╗ ██║███████║██║███████╗██████╔╝█████╗  ██████╔╝██║     ███████║███████║   ██║
██║███╗██║██╔══██║██║╚════██║██╔═══╝ ██╔══╝  ██╔══██╗██║     ██╔══██║██╔══██║   ██║
╚███╔███╔╝██║  ██║██║███████║██║     ███████╗██║  ██║╚██████╗██║  ██║██║  ██║   ██║
 ╚══╝╚══╝ ╚═╝  ╚═╝╚═╝╚══════╝╚═╝     ╚══════╝╚═╝  ╚═╝ ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝
`

// Print prints the startup banner and effective-config summary.
func Print(eff config.EffectiveConfigResult, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", eff.Addr)
	fmt.Printf("DB Path:  %s\n", eff.DBPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config source: %s\n", eff.Source)
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET /ws       - websocket relay (bearer token via Authorization header or ?token=)")
	fmt.Println("GET /healthz  - liveness")
	fmt.Println("GET /readyz   - readiness (store)")
	fmt.Println("GET /metrics  - prometheus metrics")
	fmt.Println("GET /admin/stats - connected identities and message counts")
	fmt.Println("\n== Protocol ===================================================")
	fmt.Println("send: <recipient>:<body>")
	fmt.Println("recv: <sender>: <body> | System: ... | history markers")
}
