// Command replay reads the atlas journal back: it prints mesh lifecycle
// events, filters them by server or player, and can rebuild the sqlite
// audit index from the journal files, which are the source of truth.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/index"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/journal"
)

func main() {
	var (
		journalDir = flag.String("journal", "", "directory containing mesh-*.jsonl.zst")
		kind       = flag.String("kind", "", "only events of this kind (optional)")
		serverID   = flag.String("server", "", "only events touching this server id (optional)")
		playerID   = flag.String("player", "", "only events touching this player id (optional)")
		rebuild    = flag.String("rebuild_index", "", "rebuild the sqlite index at this path from the journal (optional)")
		quiet      = flag.Bool("quiet", false, "suppress per-event output")
	)
	flag.Parse()

	if *journalDir == "" {
		fmt.Fprintln(os.Stderr, "missing -journal")
		os.Exit(2)
	}

	files, err := listJournalFiles(*journalDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list journal:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no journal files found in", *journalDir)
		os.Exit(1)
	}

	var idx *index.SQLiteIndex
	if *rebuild != "" {
		idx, err = index.Open(*rebuild)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open index:", err)
			os.Exit(1)
		}
		defer idx.Close()
	}

	byKind := map[journal.EventKind]int{}
	var total, matched int
	for _, path := range files {
		entries, err := journal.Read(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		for _, e := range entries {
			total++
			if idx != nil {
				idx.Record(e)
			}
			if !matches(e, *kind, *serverID, *playerID) {
				continue
			}
			matched++
			byKind[e.Kind]++
			if !*quiet {
				printEntry(e)
			}
		}
		// The index writer drops on a full queue; draining per file keeps
		// a rebuild lossless.
		if idx != nil {
			idx.Sync()
		}
	}
	if idx != nil {
		fmt.Printf("index rebuilt: %s (%d events)\n", *rebuild, total)
	}

	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	fmt.Printf("journal ok: files=%d events=%d matched=%d\n", len(files), total, matched)
	for _, k := range kinds {
		fmt.Printf("  %-22s %d\n", k, byKind[journal.EventKind(k)])
	}
}

func matches(e journal.Entry, kind, serverID, playerID string) bool {
	if kind != "" && string(e.Kind) != kind {
		return false
	}
	if serverID != "" && e.ServerID.String() != serverID {
		return false
	}
	if playerID != "" && e.PlayerID.String() != playerID {
		return false
	}
	return true
}

func printEntry(e journal.Entry) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-22s", e.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"), e.Kind)
	if !e.ServerID.IsZero() {
		fmt.Fprintf(&b, " server=%s", e.ServerID)
	}
	if !e.PlayerID.IsZero() {
		fmt.Fprintf(&b, " player=%s", e.PlayerID)
	}
	fmt.Fprintf(&b, " region=%s", e.Region)
	if e.Status != "" {
		fmt.Fprintf(&b, " status=%s", e.Status)
	}
	if e.TokenID != "" {
		fmt.Fprintf(&b, " token=%s", e.TokenID)
	}
	if e.ErrorCode != "" {
		fmt.Fprintf(&b, " error=%s", e.ErrorCode)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, " detail=%q", e.Detail)
	}
	fmt.Println(b.String())
}

func listJournalFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "mesh-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}
