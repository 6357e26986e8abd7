// Command fiberdemo exercises the bthread runtime the way brpc's own
// example/ directory demonstrates bthread: spawn many tasks that each
// atomically increment a shared counter and wake a butex cell, join them
// all, and print the spawn count, the counter, and the live task count.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/kelvinshore/fiberpc/bthread"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML runtime config (optional)")
	taskCount := flag.Int("tasks", 10000, "number of tasks to spawn")
	flag.Parse()

	cfg := bthread.DefaultConfig()
	if *configPath != "" {
		loaded, err := bthread.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("fiberdemo: loading config: %v", err)
		}
		cfg = loaded
	}

	rt, err := bthread.New(cfg)
	if err != nil {
		log.Fatalf("fiberdemo: building runtime: %v", err)
	}
	rt.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.Shutdown(ctx); err != nil && err != context.DeadlineExceeded {
			log.Printf("fiberdemo: shutdown: %v", err)
		}
	}()

	var counter int64
	cell := bthread.ButexCreate()
	tids := make([]bthread.TID, 0, *taskCount)

	for i := 0; i < *taskCount; i++ {
		tid, err := rt.Spawn(func(ctx *bthread.TaskContext, arg any) {
			atomic.AddInt64(&counter, 1)
			rt.ButexWakeOne(cell)
		}, nil, bthread.DefaultAttr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fiberdemo: spawn failed: %v\n", err)
			continue
		}
		tids = append(tids, tid)
	}

	for _, tid := range tids {
		if err := rt.Join(tid); err != nil {
			fmt.Fprintf(os.Stderr, "fiberdemo: join %s failed: %v\n", tid, err)
		}
	}

	fmt.Printf("spawned=%d counter=%d live=%d\n", len(tids), atomic.LoadInt64(&counter), rt.LiveTaskCount())
}
