// Command tipoff-bridge runs the persistence side: a UDP collector feeding
// SQLite and a read-only HTTP query API. Configuration comes from the
// environment (optionally a .env file); flags override.
package main

import (
	"flag"
	"fmt"
	"os"

	logging "github.com/ipfs/go-log/v2"

	"github.com/tipoffchat/tipoff/internal/server"
)

var appVersion = "dev"

var (
	dbPath     = flag.String("db", "", "SQLite path (overrides TIPOFF_DB)")
	httpAddr   = flag.String("http", "", "HTTP listen address (overrides TIPOFF_HTTP_HOST/PORT)")
	ingestPort = flag.Int("ingest", 0, "UDP ingest port (overrides TIPOFF_INGEST_PORT)")
	logLevel   = flag.String("log", "info", "Log level: debug, info, warn, error")
	version    = flag.Bool("version", false, "Show version")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("tipoff-bridge v%s\n", appVersion)
		return
	}

	if err := logging.SetLogLevel("*", *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "bad log level %q\n", *logLevel)
		os.Exit(1)
	}

	opts := server.OptionsFromEnv()
	if *dbPath != "" {
		opts.DBPath = *dbPath
	}
	if *httpAddr != "" {
		opts.HTTPAddr = *httpAddr
	}
	if *ingestPort > 0 {
		opts.IngestPort = *ingestPort
	}

	if err := server.Run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "bridge: %v\n", err)
		os.Exit(1)
	}
}
