package idcache

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"sync"

	"github.com/amaumene/totalrecall/internal/models"
	"github.com/amaumene/totalrecall/internal/utils"
	"github.com/sirupsen/logrus"
)

// Version is the on-disk format of the mappings. A different stored
// version makes the whole cache start over.
const Version = 3

// ErrIncompatible reports mappings written by another format version
var ErrIncompatible = errors.New("incompatible id cache version")

// Cache indexes identifier bundles by every known ID and by (title, year, kind).
// Writes merge into the existing bundle; nothing is ever removed from one.
type Cache struct {
	mu      sync.Mutex
	db      *models.Database
	entries map[*models.MediaIDs]struct{}
	byID    map[string][]*models.MediaIDs
	byTitle map[string]*models.MediaIDs
	dirty   bool
	logger  *logrus.Logger
}

// New creates an empty cache persisted through db (which may be nil in tests)
func New(db *models.Database, logger *logrus.Logger) *Cache {
	return &Cache{
		db:      db,
		entries: make(map[*models.MediaIDs]struct{}),
		byID:    make(map[string][]*models.MediaIDs),
		byTitle: make(map[string]*models.MediaIDs),
		logger:  logger,
	}
}

// Load builds a cache from the stored mappings. Mappings of another
// version are discarded with a warning.
func Load(db *models.Database, logger *logrus.Logger) (*Cache, error) {
	c := New(db, logger)

	if err := checkVersion(db); err != nil {
		if !errors.Is(err, ErrIncompatible) {
			return nil, err
		}
		logger.WithError(err).Warn("Discarding identifier cache")
		if err := db.ClearIDMappings(); err != nil {
			return nil, fmt.Errorf("failed to clear id cache: %w", err)
		}
		return c, nil
	}

	stored, err := db.GetIDMappings()
	if err != nil {
		return nil, fmt.Errorf("failed to load id cache: %w", err)
	}
	for _, ids := range stored {
		c.putLocked(ids)
	}
	c.dirty = false

	logger.WithField("count", len(c.entries)).Debug("Loaded identifier cache")
	return c, nil
}

func checkVersion(db *models.Database) error {
	version, err := db.GetIDCacheVersion()
	if err != nil {
		return fmt.Errorf("failed to read id cache version: %w", err)
	}
	if version != 0 && version != Version {
		return fmt.Errorf("%w: found %d, want %d", ErrIncompatible, version, Version)
	}
	return nil
}

// TitleKey is the (title, year, kind) index key
func TitleKey(title string, year int, kind models.MediaKind) string {
	return utils.NormalizeTitle(title) + "|" + strconv.Itoa(year) + "|" + kind.String()
}

func titleKeyOf(ids *models.MediaIDs) string {
	if ids.Title == "" || ids.Kind == nil {
		return ""
	}
	return TitleKey(ids.Title, ids.Year, *ids.Kind)
}

// Put merges ids into the cache. Bundles bridged by a shared ID are
// folded together unless their IMDb IDs or their kinds disagree.
func (c *Cache) Put(ids models.MediaIDs) {
	if ids.IsEmpty() && ids.PlexRatingKey == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(ids)
}

func (c *Cache) putLocked(ids models.MediaIDs) {
	matches := c.matchesLocked(ids)

	var target *models.MediaIDs
	ambiguous := false
	for _, m := range matches {
		if conflicts(*m, ids) {
			continue
		}
		if target == nil {
			target = m
			continue
		}
		if conflicts(*target, *m) {
			ambiguous = true
			continue
		}
		target.Merge(*m)
		c.unindexLocked(m)
		delete(c.entries, m)
		c.dirty = true
	}

	// IDs bridging incompatible bundles are merged into neither
	if ambiguous {
		c.indexLocked(target)
		return
	}

	if target == nil {
		fresh := ids
		target = &fresh
		c.entries[target] = struct{}{}
		c.dirty = true
	} else {
		before := *target
		target.Merge(ids)
		if !reflect.DeepEqual(before, *target) {
			c.dirty = true
		}
	}
	c.indexLocked(target)
}

// conflicts reports whether two bundles cannot describe the same title
func conflicts(a, b models.MediaIDs) bool {
	if a.IMDB != "" && b.IMDB != "" && a.IMDB != b.IMDB {
		return true
	}
	return !sameFamily(a.Kind, b.Kind)
}

// family scopes numeric IDs: services number movies and shows separately,
// and episodes carry the IDs of their show
func family(kind *models.MediaKind) string {
	switch {
	case kind == nil || kind.IsZero():
		return ""
	case kind.IsMovie():
		return "movie"
	default:
		return "show"
	}
}

func sameFamily(a, b *models.MediaKind) bool {
	fa, fb := family(a), family(b)
	return fa == "" || fb == "" || fa == fb
}

func (c *Cache) matchesLocked(ids models.MediaIDs) []*models.MediaIDs {
	seen := make(map[*models.MediaIDs]bool)
	var out []*models.MediaIDs
	add := func(m *models.MediaIDs) {
		if m != nil && !seen[m] && sameFamily(m.Kind, ids.Kind) {
			seen[m] = true
			out = append(out, m)
		}
	}
	for _, key := range ids.Keys() {
		for _, m := range c.byID[key] {
			add(m)
		}
	}
	if key := titleKeyOf(&ids); key != "" && ids.IsEmpty() {
		add(c.byTitle[key])
	}
	// Bundles carrying an IMDb ID first so they become the merge target
	sort.SliceStable(out, func(i, j int) bool { return out[i].IMDB != "" && out[j].IMDB == "" })
	return out
}

func (c *Cache) indexLocked(ids *models.MediaIDs) {
	for _, key := range ids.Keys() {
		if !containsBundle(c.byID[key], ids) {
			c.byID[key] = append(c.byID[key], ids)
		}
	}
	if key := titleKeyOf(ids); key != "" {
		c.byTitle[key] = ids
	}
}

func (c *Cache) unindexLocked(ids *models.MediaIDs) {
	for _, key := range ids.Keys() {
		bundles := c.byID[key]
		kept := bundles[:0]
		for _, m := range bundles {
			if m != ids {
				kept = append(kept, m)
			}
		}
		if len(kept) == 0 {
			delete(c.byID, key)
		} else {
			c.byID[key] = kept
		}
	}
	if key := titleKeyOf(ids); key != "" && c.byTitle[key] == ids {
		delete(c.byTitle, key)
	}
}

func containsBundle(bundles []*models.MediaIDs, ids *models.MediaIDs) bool {
	for _, m := range bundles {
		if m == ids {
			return true
		}
	}
	return false
}

// Lookup finds a bundle by a prefixed ID ("tt…", "trakt:1", "plex:abc").
// Numeric IDs shared by a movie and a show return the first bundle stored.
func (c *Cache) Lookup(id string) (models.MediaIDs, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bundles := c.byID[id]; len(bundles) > 0 {
		return *bundles[0], true
	}
	return models.MediaIDs{}, false
}

// LookupIDs finds the cached union for any ID of ids, restricted to
// bundles of the same kind
func (c *Cache) LookupIDs(ids models.MediaIDs) (models.MediaIDs, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range ids.Keys() {
		for _, found := range c.byID[key] {
			if !conflicts(*found, ids) {
				return *found, true
			}
		}
	}
	return models.MediaIDs{}, false
}

// LookupTitle finds a bundle by title, year and kind
func (c *Cache) LookupTitle(title string, year int, kind models.MediaKind) (models.MediaIDs, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ids, ok := c.byTitle[TitleKey(title, year, kind)]; ok {
		return *ids, true
	}
	return models.MediaIDs{}, false
}

// Len returns the number of distinct bundles
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Dirty reports whether there are unflushed changes
func (c *Cache) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Flush persists the cache when it changed since the last flush
func (c *Cache) Flush() error {
	c.mu.Lock()
	if !c.dirty || c.db == nil {
		c.mu.Unlock()
		return nil
	}
	snapshot := make([]models.MediaIDs, 0, len(c.entries))
	for ids := range c.entries {
		snapshot = append(snapshot, *ids)
	}
	c.dirty = false
	c.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool { return sortKey(snapshot[i]) < sortKey(snapshot[j]) })

	if err := c.db.ReplaceIDMappings(snapshot, Version); err != nil {
		c.mu.Lock()
		c.dirty = true
		c.mu.Unlock()
		return fmt.Errorf("failed to flush id cache: %w", err)
	}

	c.logger.WithField("count", len(snapshot)).Debug("Flushed identifier cache")
	return nil
}

func sortKey(ids models.MediaIDs) string {
	if id := ids.AnyID(); id != "" {
		return id
	}
	return "plex:" + ids.PlexRatingKey
}
