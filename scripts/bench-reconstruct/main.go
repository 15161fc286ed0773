// bench-reconstruct measures heap memory while a recorded point stream is
// folded into sparse volumes, and after the volumes are finalized.
//
// Usage:
//
//	go run ./scripts/bench-reconstruct --stream points.parquet --rows 512 --columns 512 \
//	  --planes 64 --every 50 --profile-dir docs/profiles/reconstruct
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/tagvol/internal/memstat"
	"github.com/Sumatoshi-tech/tagvol/pkg/pointstream"
	"github.com/Sumatoshi-tech/tagvol/pkg/reconstruct"
	"github.com/Sumatoshi-tech/tagvol/pkg/safeconv"
	"github.com/Sumatoshi-tech/tagvol/pkg/volume"
)

type heapSnapshot struct {
	label string
	snap  memstat.HeapSnapshot
}

func main() {
	stream := flag.String("stream", "", "Arrow IPC or Parquet point stream")
	rows := flag.Uint("rows", 0, "volume rows")
	columns := flag.Uint("columns", 0, "volume columns")
	planes := flag.Uint("planes", 1, "volume planes")
	workers := flag.Int("workers", 0, "channels accumulated in parallel per batch")
	batchRows := flag.Int("batch-rows", 0, "rows per Parquet read batch (0 = default)")
	every := flag.Int("every", 100, "batches between heap snapshots")
	profileDir := flag.String("profile-dir", "", "Directory to write heap profiles")
	cpuProfile := flag.Bool("cpu-profile", false, "Write CPU profile to profile-dir/cpu.prof")

	flag.Parse()

	if *stream == "" {
		log.Fatal("--stream is required")
	}

	if *profileDir == "" {
		log.Fatal("--profile-dir is required")
	}

	if *every <= 0 {
		log.Fatal("--every must be positive")
	}

	if err := os.MkdirAll(*profileDir, 0o750); err != nil {
		log.Fatalf("mkdir profile-dir: %v", err)
	}

	if *cpuProfile {
		stop := startCPUProfile(filepath.Join(*profileDir, "cpu.prof"))
		defer stop()
	}

	shape := volume.Shape{Rows: uint32(*rows), Columns: uint32(*columns), Planes: uint32(*planes)} //nolint:gosec // flag values.

	src, err := pointstream.OpenFile(*stream, pointstream.Options{BatchRows: *batchRows})
	if err != nil {
		log.Fatalf("open stream: %v", err)
	}

	reader, err := reconstruct.Open(src, shape, reconstruct.WithWorkers(*workers))
	if err != nil {
		log.Fatalf("open reader: %v", err)
	}
	defer reader.Close()

	var snapshots []heapSnapshot

	takeSnapshot := func(label string) {
		runtime.GC()
		runtime.GC()

		s := memstat.Take()
		snapshots = append(snapshots, heapSnapshot{label: label, snap: s})
		log.Printf("  [heap] %-30s inuse=%s  alloc=%s  sys=%s",
			label, humanize.IBytes(s.HeapInuse), humanize.IBytes(s.HeapAlloc), humanize.IBytes(s.Sys))
	}

	ctx := context.Background()

	takeSnapshot("before_processing")
	writeHeapProfile(*profileDir, "heap_before_processing.prof")

	for {
		err = reader.Step(ctx)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			log.Fatalf("step: %v", err)
		}

		if reader.Batches()%*every == 0 {
			takeSnapshot(fmt.Sprintf("batch_%d", reader.Batches()))
		}
	}

	takeSnapshot("after_all_batches")
	writeHeapProfile(*profileDir, "heap_after_all_batches.prof")

	vols, err := reader.Finalize(ctx)
	if err != nil {
		log.Fatalf("finalize: %v", err)
	}

	takeSnapshot("after_finalize")
	writeHeapProfile(*profileDir, "heap_after_finalize.prof")

	coords := 0
	for _, v := range vols {
		coords += v.Len()
	}

	log.Printf("%s rows in %d batches, %d channels, %s coordinates",
		humanize.Comma(safeconv.Int64(reader.Rows())), reader.Batches(), len(vols), humanize.Comma(int64(coords)))

	printTimeline(snapshots)
}

func printTimeline(snapshots []heapSnapshot) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(os.Stdout)
	tbl.SetTitle("Heap Memory Timeline")
	tbl.AppendHeader(table.Row{"Phase", "InUse", "Alloc", "Sys", "GC"})

	for _, s := range snapshots {
		tbl.AppendRow(table.Row{
			s.label,
			humanize.IBytes(s.snap.HeapInuse),
			humanize.IBytes(s.snap.HeapAlloc),
			humanize.IBytes(s.snap.Sys),
			s.snap.NumGC,
		})
	}

	tbl.Render()
}

func startCPUProfile(path string) func() {
	f, err := os.Create(path)
	if err != nil {
		log.Fatalf("create cpu profile: %v", err)
	}

	if err := pprof.StartCPUProfile(f); err != nil {
		log.Fatalf("start cpu profile: %v", err)
	}

	log.Printf("CPU profiling enabled -> %s", path)

	return func() {
		pprof.StopCPUProfile()
		f.Close()
	}
}

func writeHeapProfile(dir, name string) {
	runtime.GC()

	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		log.Printf("warning: create heap profile %s: %v", path, err)

		return
	}
	defer f.Close()

	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Printf("warning: write heap profile %s: %v", path, err)
	}
}
