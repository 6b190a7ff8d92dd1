// Command ninjahist is a read-only CLI over the local history store,
// letting an engineer ask "what did we last build for this output, and
// when, and did the command change." Grounded on the "iterate log
// entries" operation in spec.md §6 and internal/history/query.go's
// zombiezen.com/go/sqlite reader.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"majak-go/internal/history"
)

func main() {
	storePath := flag.String("store", "ninja_history.db", "path to the local history store")
	limit := flag.Int("limit", 10, "maximum number of rows to print")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: ninjahist [-store path] [-limit n] <output-path>")
		os.Exit(2)
	}
	output := flag.Arg(0)

	reader, err := history.OpenReader(*storePath)
	if err != nil {
		log.Fatalf("ninjahist: %v", err)
	}
	defer reader.Close()

	printed := 0
	err = reader.IterateByOutput(output, func(e history.Entry) bool {
		fmt.Printf("%s  command=%s  content=%s  mtime=%d  recorded=%s\n",
			e.Output, e.CommandHash, e.ContentHash, e.Mtime,
			time.Unix(e.RecordedAt, 0).Format(time.RFC3339))
		printed++
		return printed < *limit
	})
	if err != nil {
		log.Fatalf("ninjahist: %v", err)
	}
	if printed == 0 {
		fmt.Printf("no history for %s\n", output)
	}
}
