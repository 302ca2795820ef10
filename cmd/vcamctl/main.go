// Command vcamctl is a small operator CLI: it performs the FD
// rendezvous against a running feeder daemon, maps the ring read-only,
// and prints the header state once or repeatedly on an interval.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pixel4a/vcam/internal/fdpass"
	"github.com/pixel4a/vcam/internal/logger"
	"github.com/pixel4a/vcam/internal/ring"
)

var (
	sockPath = flag.String("socket", "", "Rendezvous socket path (default: try both spec paths)")
	watch    = flag.Bool("watch", false, "Keep printing header state every interval instead of once")
	interval = flag.Duration("interval", time.Second, "Poll interval in watch mode")
	logLevel = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
)

func main() {
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, true)

	fd, err := dial()
	if err != nil {
		log.Fatalf("rendezvous failed: %v", err)
	}

	seg, err := ring.Open(fd)
	if err != nil {
		log.Fatalf("map ring: %v", err)
	}
	defer seg.Close()

	printHeader(seg)
	if !*watch {
		return
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for range ticker.C {
		printHeader(seg)
	}
}

func dial() (int, error) {
	if *sockPath != "" {
		return fdpass.Dial(*sockPath)
	}
	return fdpass.DialDefault()
}

func printHeader(seg *ring.Segment) {
	now := time.Now()
	writeIndex := seg.WriteIndex()
	lastUpdate := seg.LastUpdateMs()
	age := now.UnixMilli() - lastUpdate

	fmt.Printf(
		"write_index=%d num_frames=%d frame_size=%d width=%d height=%d last_update_ms=%d age_ms=%d stale=%v\n",
		writeIndex, seg.NumFramesField(), seg.FrameSizeField(), seg.WidthField(), seg.HeightField(), lastUpdate, age, seg.Stale(now),
	)
}
