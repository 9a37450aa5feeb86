// Package badger implements a persistent catalog source on BadgerDB.
//
// Storage Model:
//
//	o/<id>                      JSON object record
//	c/<parent>\x00<seq:8 bytes> child id, in insertion order
//
// The sequence suffix comes from a Badger sequence, so children list in the
// order they were added across restarts. Objects stored without an id get a
// random UUID.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"

	"github.com/marmos91/mediabus/internal/logger"
	"github.com/marmos91/mediabus/pkg/property"
	"github.com/marmos91/mediabus/pkg/source"
)

const (
	prefixObject = "o/"
	prefixChild  = "c/"
	keySequence  = "s/children"

	sequenceBandwidth = 128
)

// BadgerSourceConfig configures a BadgerSource.
type BadgerSourceConfig struct {
	// DBPath is the directory holding the database. Ignored when InMemory
	// is set.
	DBPath string

	// InMemory keeps the database in memory only.
	InMemory bool

	// RootName is the DisplayName given to the root container when the
	// database is created.
	RootName string

	// Searchable marks every container as searchable.
	Searchable bool

	// BadgerOptions overrides the options derived from the fields above.
	BadgerOptions *badger.Options
}

// BadgerSource is a catalog persisted in BadgerDB.
//
// Thread Safety: mu serializes writers so a record and its child index
// entry change together; readers rely on Badger transactions.
type BadgerSource struct {
	mu         sync.Mutex
	db         *badger.DB
	seq        *badger.Sequence
	searchable bool

	watchers source.Watchers
}

// record is the stored form of an object.
type record struct {
	ID        string         `json:"id"`
	Parent    string         `json:"parent"`
	Container bool           `json:"container"`
	IndexKey  []byte         `json:"index_key,omitempty"`
	Props     property.Table `json:"properties"`
}

// NewBadgerSource opens (or creates) a catalog database.
func NewBadgerSource(ctx context.Context, config BadgerSourceConfig) (*BadgerSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	switch {
	case config.BadgerOptions != nil:
		opts = *config.BadgerOptions
	case config.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	default:
		if config.DBPath == "" {
			return nil, fmt.Errorf("badger source: db path is required")
		}
		opts = badger.DefaultOptions(config.DBPath)
	}
	opts = opts.WithLoggingLevel(badger.WARNING).WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	seq, err := db.GetSequence([]byte(keySequence), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open child sequence: %w", err)
	}

	s := &BadgerSource{db: db, seq: seq, searchable: config.Searchable}
	if err := s.ensureRoot(config.RootName); err != nil {
		_ = s.Close()
		return nil, err
	}

	logger.Info("Badger source opened", logger.KeyPath, config.DBPath)
	return s, nil
}

func (s *BadgerSource) ensureRoot(name string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(objectKey(source.RootID))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		root := &record{ID: source.RootID, Container: true, Props: property.NewTable()}
		if name != "" {
			root.Props[property.DisplayName] = property.String(name)
		}
		return putRecord(txn, root)
	})
}

func objectKey(id string) []byte {
	return []byte(prefixObject + id)
}

func childPrefix(parent string) []byte {
	return append([]byte(prefixChild+parent), 0)
}

func childKey(parent string, seq uint64) []byte {
	key := childPrefix(parent)
	return binary.BigEndian.AppendUint64(key, seq)
}

func putRecord(txn *badger.Txn, r *record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode object %q: %w", r.ID, err)
	}
	return txn.Set(objectKey(r.ID), data)
}

func getRecord(txn *badger.Txn, id string) (*record, error) {
	item, err := txn.Get(objectKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %q", source.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var r record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &r)
	}); err != nil {
		return nil, fmt.Errorf("failed to decode object %q: %w", id, err)
	}
	if r.Props == nil {
		r.Props = property.NewTable()
	}
	return &r, nil
}

func childIDs(txn *badger.Txn, parent string) ([]string, error) {
	prefix := childPrefix(parent)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		ids = append(ids, string(val))
	}
	return ids, nil
}

func (s *BadgerSource) object(txn *badger.Txn, r *record, names []property.Name) (*source.Object, error) {
	props := r.Props
	if r.Container && !props.Has(property.ChildCount) {
		ids, err := childIDs(txn, r.ID)
		if err != nil {
			return nil, err
		}
		props[property.ChildCount] = property.UInt(uint64(len(ids)))
	}
	if r.Container && s.searchable && !props.Has(property.Searchable) {
		props[property.Searchable] = property.Bool(true)
	}
	if !props.Has(property.Type) {
		kind := property.TypeItem
		if r.Container {
			kind = property.TypeContainer
		}
		props[property.Type] = property.String(kind)
	}
	return &source.Object{
		ID:         r.ID,
		ParentID:   r.Parent,
		Container:  r.Container,
		Properties: source.Project(props, names),
	}, nil
}

// Resolve implements source.Source.
func (s *BadgerSource) Resolve(ctx context.Context, id string, names []property.Name) (*source.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var obj *source.Object
	err := s.db.View(func(txn *badger.Txn) error {
		r, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		obj, err = s.object(txn, r, names)
		return err
	})
	return obj, err
}

// Children implements source.Source.
func (s *BadgerSource) Children(ctx context.Context, id string, filter source.ChildFilter, offset, maxCount uint32, names []property.Name) ([]*source.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*source.Object
	err := s.db.View(func(txn *badger.Txn) error {
		parent, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		if !parent.Container {
			return fmt.Errorf("%w: %q", source.ErrNotContainer, id)
		}
		ids, err := childIDs(txn, id)
		if err != nil {
			return err
		}

		var matched []*record
		for _, childID := range ids {
			child, err := getRecord(txn, childID)
			if err != nil {
				return err
			}
			if filter.Accepts(child.Container) {
				matched = append(matched, child)
			}
		}
		for _, child := range source.Window(matched, offset, maxCount) {
			obj, err := s.object(txn, child, names)
			if err != nil {
				return err
			}
			out = append(out, obj)
		}
		return nil
	})
	return out, err
}

// Search implements source.Source with a depth-first scan below id.
func (s *BadgerSource) Search(ctx context.Context, id string, query *source.Query, offset, maxCount uint32, names []property.Name) ([]*source.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*source.Object
	err := s.db.View(func(txn *badger.Txn) error {
		parent, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		if !parent.Container {
			return fmt.Errorf("%w: %q", source.ErrNotContainer, id)
		}

		var matched []*record
		var walk func(string) error
		walk = func(parentID string) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ids, err := childIDs(txn, parentID)
			if err != nil {
				return err
			}
			for _, childID := range ids {
				child, err := getRecord(txn, childID)
				if err != nil {
					return err
				}
				full, err := s.object(txn, child, nil)
				if err != nil {
					return err
				}
				if query.Match(full.Properties) {
					matched = append(matched, child)
				}
				if child.Container {
					if err := walk(childID); err != nil {
						return err
					}
				}
			}
			return nil
		}
		if err := walk(id); err != nil {
			return err
		}

		for _, r := range source.Window(matched, offset, maxCount) {
			obj, err := s.object(txn, r, names)
			if err != nil {
				return err
			}
			out = append(out, obj)
		}
		return nil
	})
	return out, err
}

// Watch implements source.Source.
func (s *BadgerSource) Watch(fn func(id string)) func() {
	return s.watchers.Add(fn)
}

// Put implements source.Writer. Objects without an id get a UUID.
func (s *BadgerSource) Put(ctx context.Context, obj *source.Object) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	r := &record{
		ID:        obj.ID,
		Parent:    obj.ParentID,
		Container: obj.Container,
		Props:     obj.Properties.Clone(),
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Props == nil {
		r.Props = property.NewTable()
	}
	for _, name := range source.Derived {
		delete(r.Props, name)
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		parent, err := getRecord(txn, r.Parent)
		if err != nil {
			return err
		}
		if !parent.Container {
			return fmt.Errorf("%w: %q", source.ErrNotContainer, r.Parent)
		}
		if _, err := txn.Get(objectKey(r.ID)); err == nil {
			return fmt.Errorf("object %q already exists", r.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		n, err := s.seq.Next()
		if err != nil {
			return fmt.Errorf("failed to allocate child sequence: %w", err)
		}
		r.IndexKey = childKey(r.Parent, n)
		if err := txn.Set(r.IndexKey, []byte(r.ID)); err != nil {
			return err
		}
		return putRecord(txn, r)
	})
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	s.watchers.Notify(r.Parent)
	return r.ID, nil
}

// Update merges props into the object id.
func (s *BadgerSource) Update(ctx context.Context, id string, props property.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	var notify string
	err := s.db.Update(func(txn *badger.Txn) error {
		r, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		r.Props.Merge(props, nil)
		for _, name := range source.Derived {
			delete(r.Props, name)
		}
		notify = r.Parent
		if r.Container {
			notify = r.ID
		}
		return putRecord(txn, r)
	})
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.watchers.Notify(notify)
	return nil
}

// Remove deletes id and its subtree.
func (s *BadgerSource) Remove(ctx context.Context, id string) error {
	if id == source.RootID {
		return fmt.Errorf("cannot remove the root container")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	var parent string
	err := s.db.Update(func(txn *badger.Txn) error {
		r, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		parent = r.Parent
		if len(r.IndexKey) > 0 {
			if err := txn.Delete(r.IndexKey); err != nil {
				return err
			}
		}
		return removeSubtree(txn, r)
	})
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.watchers.Notify(parent)
	return nil
}

func removeSubtree(txn *badger.Txn, r *record) error {
	if r.Container {
		ids, err := childIDs(txn, r.ID)
		if err != nil {
			return err
		}
		for _, childID := range ids {
			child, err := getRecord(txn, childID)
			if err != nil {
				return err
			}
			if err := txn.Delete(child.IndexKey); err != nil {
				return err
			}
			if err := removeSubtree(txn, child); err != nil {
				return err
			}
		}
	}
	return txn.Delete(objectKey(r.ID))
}

// Close releases the sequence and closes the database.
func (s *BadgerSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq != nil {
		if err := s.seq.Release(); err != nil {
			logger.Warn("Failed to release child sequence", logger.KeyError, err)
		}
		s.seq = nil
	}
	return s.db.Close()
}

var (
	_ source.Source = (*BadgerSource)(nil)
	_ source.Writer = (*BadgerSource)(nil)
)
