// Command enrichworker runs the async enrichment worker (spec.md §4.9) as a
// standalone process. It drains a newline-delimited JSON CDC feed — a file
// or stdin — standing in for the Kafka topic named in
// original_source/enrichment-worker.py's header comment
// (onebullex.cdc.withdraw_record); no Kafka client library appears anywhere
// in the example pack, so the worker consumes through the small CDCSource
// interface instead (see internal/worker.CDCSource), which a real Kafka
// consumer could implement without this binary changing.
package main

import (
	"bufio"
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/onebullex/risk-engine/internal/db"
	"github.com/onebullex/risk-engine/internal/enrichment"
	"github.com/onebullex/risk-engine/internal/worker"
)

// fileCDCSource reads one CDC batch per newline from an io.Reader. It
// implements worker.CDCSource. A closed/exhausted source returns io.EOF,
// which Next reports as a nil batch so the worker's poll loop idles rather
// than erroring — matching the "no more records right now" case of a real
// Kafka consumer with nothing left to poll.
type fileCDCSource struct {
	mu     sync.Mutex
	reader *bufio.Reader
}

func newFileCDCSource(r io.Reader) *fileCDCSource {
	return &fileCDCSource{reader: bufio.NewReader(r)}
}

func (s *fileCDCSource) Next(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := s.reader.ReadBytes('\n')
	if len(line) == 0 && err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	return line, nil
}

func main() {
	log.Println("Starting OneBullEx enrichment worker...")

	dbURL := requireEnv("DATABASE_URL")
	dbConn, err := db.Connect(dbURL)
	if err != nil {
		log.Fatalf("FATAL: failed to connect to PostgreSQL: %v", err)
	}
	defer dbConn.Close()

	sanctions := enrichment.NewSanctionsClient(requireEnv("SANCTIONS_API_URL"), os.Getenv("SANCTIONS_API_KEY"))
	age := enrichment.NewDestinationAgeClient(requireEnv("BLOCK_EXPLORER_API_URL"), os.Getenv("BLOCK_EXPLORER_API_KEY"))

	var source *fileCDCSource
	if path := os.Getenv("CDC_FEED_PATH"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			log.Fatalf("FATAL: failed to open CDC feed %s: %v", path, err)
		}
		defer f.Close()
		source = newFileCDCSource(f)
		log.Printf("Reading CDC records from %s", path)
	} else {
		source = newFileCDCSource(os.Stdin)
		log.Println("Reading CDC records from stdin")
	}

	w := worker.New(source, dbConn, sanctions, age)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w.Run(ctx)
	log.Println("Enrichment worker stopped")
}

func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set. "+
			"Copy .env.example to .env and fill in your values: cp .env.example .env", key)
	}
	return val
}
