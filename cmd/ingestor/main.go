package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/goccy/go-json"

	natsadapter "github.com/samirrijal/trailkeep/internal/adapters/nats"
	"github.com/samirrijal/trailkeep/internal/core/domain"
	"github.com/samirrijal/trailkeep/internal/pkg/config"
	"github.com/samirrijal/trailkeep/internal/pkg/jsonstream"
	"github.com/samirrijal/trailkeep/internal/pkg/logging"
)

const defaultBatchSize = 500

// ingestor streams a sample export (a JSON array or one object per line) and
// publishes it in batches for the api process to ingest.
//
//	ingestor <file> [batch-size]
func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: ingestor <file> [batch-size]")
	}

	cfg, err := config.Load("trailkeep-ingestor")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format, cfg.Telemetry.ServiceName)

	batchSize := defaultBatchSize
	if len(os.Args) > 2 {
		n, err := strconv.Atoi(os.Args[2])
		if err != nil || n <= 0 {
			log.Fatalf("invalid batch size %q", os.Args[2])
		}
		batchSize = n
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer pub.Close()

	f, err := os.Open(os.Args[1])
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer f.Close()

	batch := make([]domain.Sample, 0, batchSize)
	var sent, batches int
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := pub.PublishSamples(ctx, batch); err != nil {
			return fmt.Errorf("publish batch %d: %w", batches+1, err)
		}
		sent += len(batch)
		batches++
		batch = batch[:0]
		return nil
	}
	add := func(s domain.Sample) error {
		batch = append(batch, s)
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	}

	if err := readSamples(f, add); err != nil {
		slog.Error("import stopped", "file", os.Args[1], "sent", sent, "error", err)
		os.Exit(1)
	}
	if err := flush(); err != nil {
		slog.Error("import stopped", "file", os.Args[1], "sent", sent, "error", err)
		os.Exit(1)
	}

	slog.Info("import complete", "file", os.Args[1], "samples", sent, "batches", batches)
}

// readSamples sniffs the first byte: '[' is a legacy array export, anything
// else is read as line form. Undecodable lines are skipped.
func readSamples(r io.Reader, fn func(domain.Sample) error) error {
	br := bufio.NewReader(r)
	for {
		b, err := br.Peek(1)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if b[0] == ' ' || b[0] == '\n' || b[0] == '\r' || b[0] == '\t' {
			_, _ = br.ReadByte()
			continue
		}
		if b[0] == '[' {
			return jsonstream.Each(br, fn)
		}
		break
	}

	sc := bufio.NewScanner(br)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var s domain.Sample
		if err := json.Unmarshal(raw, &s); err != nil {
			slog.Warn("skipping undecodable line", "line", line, "error", err)
			continue
		}
		if err := fn(s); err != nil {
			return err
		}
	}
	return sc.Err()
}
