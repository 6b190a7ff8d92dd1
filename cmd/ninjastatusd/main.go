// Command ninjastatusd is a local-only status daemon: it serves a JSON
// snapshot of the history store over loopback HTTP and periodically
// recompacts the build/deps logs in the background. It never accepts
// connections from other hosts and never dispatches work — this is local
// introspection, not a remote build service (spec.md Non-goals). Grounded
// on ninja-rbe/rbe_rest_service.go's fasthttp handler style, repurposed
// from remote log upload to local read-only status.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/valyala/fasthttp"

	"majak-go/internal/history"
	"majak-go/internal/ninja"
)

// daemonUser answers Recompact's dead-path query. The daemon never loads a
// manifest, so it has no basis to call any output dead; it only prunes what
// ninja.BuildLog.Load itself decided needs recompaction (stale version,
// oversized build/deps ratio).
type daemonUser struct{}

func (daemonUser) IsPathDead(output string) bool { return false }

type statusPayload struct {
	LiveRecords  int64  `json:"live_records"`
	LastCompact  string `json:"last_compact"`
	HistoryStore string `json:"history_store"`
}

// recentCache keeps up to perSlot recently-seen output paths per bucket, so
// one hot directory of outputs doesn't push every other path out of the
// cache. All buckets share one mutex. Buckets are assigned by
// history.BucketKey.
type recentCache struct {
	mu      sync.Mutex
	buckets [][]string
	perSlot int
}

func newRecentCache(numBuckets, perSlot int) *recentCache {
	return &recentCache{buckets: make([][]string, numBuckets), perSlot: perSlot}
}

func (c *recentCache) Observe(output string) {
	b := history.BucketKey(output, len(c.buckets))
	c.mu.Lock()
	defer c.mu.Unlock()
	slot := append(c.buckets[b], output)
	if len(slot) > c.perSlot {
		slot = slot[len(slot)-c.perSlot:]
	}
	c.buckets[b] = slot
}

func (c *recentCache) Snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, slot := range c.buckets {
		out = append(out, slot...)
	}
	return out
}

func main() {
	listenAddr := flag.String("listen", "127.0.0.1:9187", "loopback address to serve status on")
	storePath := flag.String("store", "ninja_history.db", "path to the local history store")
	buildLogPath := flag.String("build-log", ".ninja_log", "path to the ninja build log to recompact")
	compactEvery := flag.Duration("compact-every", time.Hour, "how often to recompact the build/deps log")
	flag.Parse()

	store, err := history.Open(*storePath)
	if err != nil {
		log.Fatalf("ninjastatusd: opening history store: %v", err)
	}
	defer store.Close()

	lastCompact := time.Now()

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("ninjastatusd: creating scheduler: %v", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(*compactEvery),
		gocron.NewTask(func() {
			buildLog := ninja.NewBuildLog()
			state := ninja.NewState()
			if _, err := buildLog.Load(*buildLogPath, state); err != nil {
				log.Printf("ninjastatusd: loading build log for recompaction: %v", err)
				return
			}
			if !buildLog.NeedsRecompaction() {
				return
			}
			log.Println("ninjastatusd: recompacting build log")
			if err := buildLog.Recompact(*buildLogPath, daemonUser{}); err != nil {
				log.Printf("ninjastatusd: recompacting build log: %v", err)
				return
			}
			lastCompact = time.Now()
		}),
	)
	if err != nil {
		log.Fatalf("ninjastatusd: scheduling compaction: %v", err)
	}
	scheduler.Start()
	defer scheduler.Shutdown()

	reader, err := history.OpenReader(*storePath)
	if err != nil {
		log.Fatalf("ninjastatusd: opening history reader: %v", err)
	}
	defer reader.Close()

	cache := newRecentCache(16, 8)
	refreshRecent := func() {
		outputs, err := reader.RecentOutputs(cache.perSlot * len(cache.buckets))
		if err != nil {
			log.Printf("ninjastatusd: refreshing recent-builds cache: %v", err)
			return
		}
		for _, o := range outputs {
			cache.Observe(o)
		}
	}
	refreshRecent()
	if _, err := scheduler.NewJob(
		gocron.DurationJob(*compactEvery/4),
		gocron.NewTask(refreshRecent),
	); err != nil {
		log.Fatalf("ninjastatusd: scheduling recent-builds refresh: %v", err)
	}

	handler := func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/status":
			count, err := reader.CountLive()
			if err != nil {
				ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
				return
			}
			payload := statusPayload{
				LiveRecords:  count,
				LastCompact:  lastCompact.Format(time.RFC3339),
				HistoryStore: *storePath,
			}
			body, err := json.Marshal(payload)
			if err != nil {
				ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
				return
			}
			ctx.SetContentType("application/json")
			ctx.SetBody(body)
		case "/recent":
			body, err := json.Marshal(cache.Snapshot())
			if err != nil {
				ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
				return
			}
			ctx.SetContentType("application/json")
			ctx.SetBody(body)
		default:
			ctx.Error("not found", fasthttp.StatusNotFound)
		}
	}

	log.Printf("ninjastatusd: listening on %s", *listenAddr)
	if err := fasthttp.ListenAndServe(*listenAddr, handler); err != nil {
		log.Fatalf("ninjastatusd: %v", err)
	}
}
