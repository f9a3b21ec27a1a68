package diff

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/models"
)

// DefaultCacheLimit is the hard ceiling on cached row digests. Hitting it
// clears the whole cache: one cold cycle in exchange for bounded memory.
const DefaultCacheLimit = 100_000

// Result classifies the rows of one table between two snapshots.
// A key appears in at most one of the three slices.
type Result struct {
	Inserts models.TableSnapshot
	Updates models.TableSnapshot
	Deletes models.TableSnapshot
	// Skipped counts rows excluded because their key field was missing or nil.
	Skipped int
}

// Changed returns the number of rows the result would apply.
func (r Result) Changed() int {
	return len(r.Inserts) + len(r.Updates) + len(r.Deletes)
}

// Engine computes row-level diffs using content hashing. Safe for
// concurrent use; the digest cache is shared across calls.
type Engine struct {
	mu         sync.Mutex
	cache      map[string]uint64
	cacheLimit int
	log        zerolog.Logger
}

func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{
		cache:      make(map[string]uint64),
		cacheLimit: DefaultCacheLimit,
		log:        log.With().Str("component", "diff").Logger(),
	}
}

// Diff classifies rows of newRows against oldRows by keyField.
// Keys only in newRows are inserts, keys in both with differing content
// hashes are updates, keys only in oldRows are deletes. Unchanged rows are
// not emitted. Neither input is mutated.
func (e *Engine) Diff(oldRows, newRows models.TableSnapshot, keyField string) Result {
	var res Result

	oldByKey, skippedOld := e.index(oldRows, keyField)
	newByKey, skippedNew := e.index(newRows, keyField)
	res.Skipped = skippedOld + skippedNew
	if res.Skipped > 0 {
		e.log.Warn().Int("rows", res.Skipped).Str("key_field", keyField).
			Msg("skipped rows with missing key field")
	}

	for key, entry := range newByKey {
		old, ok := oldByKey[key]
		switch {
		case !ok:
			res.Inserts = append(res.Inserts, entry.row)
		case old.hash != entry.hash:
			res.Updates = append(res.Updates, entry.row)
		}
	}
	for key, entry := range oldByKey {
		if _, ok := newByKey[key]; !ok {
			res.Deletes = append(res.Deletes, entry.row)
		}
	}
	return res
}

type indexed struct {
	row  models.Row
	hash uint64
}

func (e *Engine) index(rows models.TableSnapshot, keyField string) (map[string]indexed, int) {
	byKey := make(map[string]indexed, len(rows))
	skipped := 0
	for _, row := range rows {
		key, ok := row.Key(keyField)
		if !ok {
			skipped++
			continue
		}
		byKey[fmt.Sprint(key)] = indexed{row: row, hash: e.hashRow(row)}
	}
	return byKey, skipped
}

// hashRow digests the row's canonical form: columns sorted, values JSON
// encoded. Identical content always yields an identical digest regardless
// of map iteration order.
func (e *Engine) hashRow(row models.Row) uint64 {
	canonical := canonicalize(row)

	e.mu.Lock()
	defer e.mu.Unlock()
	if h, ok := e.cache[canonical]; ok {
		return h
	}
	if len(e.cache) >= e.cacheLimit {
		e.cache = make(map[string]uint64)
	}
	h := xxhash.Sum64String(canonical)
	e.cache[canonical] = h
	return h
}

func canonicalize(row models.Row) string {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	buf := make([]byte, 0, 64*len(cols))
	for _, c := range cols {
		buf = append(buf, c...)
		buf = append(buf, '=')
		v, err := json.Marshal(row[c])
		if err != nil {
			// Unencodable values still need a stable representation.
			v = []byte(fmt.Sprintf("%v", row[c]))
		}
		buf = append(buf, v...)
		buf = append(buf, ';')
	}
	return string(buf)
}
