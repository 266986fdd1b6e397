package propcache

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nerrad567/astarte-device-core/internal/codec"
	"github.com/nerrad567/astarte-device-core/internal/infrastructure/database"
)

const (
	sensorIface = "org.astarte-platform.genericsensors.AvailableSensors"
	configIface = "org.astarte-platform.genericsensors.SamplingRate"
)

// backends returns every Store configuration the behaviour tests run against.
func backends(t *testing.T) map[string]func(t *testing.T) *Cache {
	t.Helper()

	sqliteStore := func(driver string, decodeCache int) func(t *testing.T) *Cache {
		return func(t *testing.T) *Cache {
			t.Helper()

			db, err := database.Open(context.Background(), database.Config{
				Driver: driver,
				Path:   database.MemoryPath,
			})
			if err != nil {
				t.Fatalf("database.Open() error = %v", err)
			}
			t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

			repo, err := NewSQLiteRepository(context.Background(), db.DB, db.Driver())
			if err != nil {
				t.Fatalf("NewSQLiteRepository() error = %v", err)
			}
			return newTestCache(t, repo, decodeCache)
		}
	}

	return map[string]func(t *testing.T) *Cache{
		"sqlite3":              sqliteStore(database.DriverSQLite3, 0),
		"sqlite":               sqliteStore(database.DriverSQLite, 0),
		"sqlite3+decode-cache": sqliteStore(database.DriverSQLite3, 16),
		"memory":               func(t *testing.T) *Cache { return newTestCache(t, NewMemoryRepository(), 0) },
		"memory+decode-cache":  func(t *testing.T) *Cache { return newTestCache(t, NewMemoryRepository(), 16) },
		"memory+tiny-cache":    func(t *testing.T) *Cache { return newTestCache(t, NewMemoryRepository(), 1) },
	}
}

func newTestCache(t *testing.T, repo Repository, decodeCache int) *Cache {
	t.Helper()

	c, err := New(repo, codec.NewCBOR(), Options{DecodeCacheSize: decodeCache})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func encode(t *testing.T, v codec.Scalar) []byte {
	t.Helper()

	data, err := codec.NewCBOR().EncodeIndividual(v)
	if err != nil {
		t.Fatalf("EncodeIndividual() error = %v", err)
	}
	return data
}

// forEachBackend runs fn as a subtest against a fresh store per backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, s *Cache)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func TestStore_RoundTrip(t *testing.T) {
	values := []codec.Scalar{
		codec.Double(21.5),
		codec.Integer(7),
		codec.Boolean(false),
		codec.String("enabled"),
		codec.BinaryBlob([]byte{0xde, 0xad}),
		codec.StringArray([]string{"a", "b"}),
	}

	forEachBackend(t, func(t *testing.T, s *Cache) {
		ctx := context.Background()

		for _, want := range values {
			if err := s.StoreProperty(ctx, sensorIface, "/sensor1/name", encode(t, want), 1); err != nil {
				t.Fatalf("StoreProperty() error = %v", err)
			}

			got, ok, err := s.LoadProperty(ctx, sensorIface, "/sensor1/name", 1)
			if err != nil {
				t.Fatalf("LoadProperty() error = %v", err)
			}
			if !ok {
				t.Fatalf("LoadProperty() ok = false after store of %v", want)
			}
			if !got.Equal(want) {
				t.Errorf("LoadProperty() = %v, want %v", got, want)
			}
		}
	})
}

func TestStore_LoadAbsent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Cache) {
		_, ok, err := s.LoadProperty(context.Background(), sensorIface, "/missing", 1)
		if err != nil {
			t.Fatalf("LoadProperty() error = %v", err)
		}
		if ok {
			t.Error("LoadProperty() ok = true for a property never stored")
		}
	})
}

func TestStore_MajorVersionInvalidation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Cache) {
		ctx := context.Background()

		if err := s.StoreProperty(ctx, sensorIface, "/sensor1/name", encode(t, codec.String("x")), 1); err != nil {
			t.Fatalf("StoreProperty() error = %v", err)
		}

		if _, ok, err := s.LoadProperty(ctx, sensorIface, "/sensor1/name", 2); err != nil || ok {
			t.Fatalf("LoadProperty(major 2) = ok %v, err %v; want absent", ok, err)
		}

		// The mismatching read purged the row.
		if _, ok, err := s.LoadProperty(ctx, sensorIface, "/sensor1/name", 1); err != nil || ok {
			t.Fatalf("LoadProperty(major 1) after purge = ok %v, err %v; want absent", ok, err)
		}

		props, err := s.ListAllProperties(ctx)
		if err != nil {
			t.Fatalf("ListAllProperties() error = %v", err)
		}
		if len(props) != 0 {
			t.Errorf("ListAllProperties() = %d rows, want 0", len(props))
		}
	})
}

func TestStore_ReplaceUpdatesMajor(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Cache) {
		ctx := context.Background()

		if err := s.StoreProperty(ctx, sensorIface, "/p", encode(t, codec.Integer(1)), 1); err != nil {
			t.Fatalf("StoreProperty() error = %v", err)
		}
		if err := s.StoreProperty(ctx, sensorIface, "/p", encode(t, codec.Integer(2)), 2); err != nil {
			t.Fatalf("StoreProperty() error = %v", err)
		}

		got, ok, err := s.LoadProperty(ctx, sensorIface, "/p", 2)
		if err != nil || !ok {
			t.Fatalf("LoadProperty() = ok %v, err %v", ok, err)
		}
		if !got.Equal(codec.Integer(2)) {
			t.Errorf("LoadProperty() = %v, want 2", got)
		}

		props, err := s.ListAllProperties(ctx)
		if err != nil {
			t.Fatalf("ListAllProperties() error = %v", err)
		}
		if len(props) != 1 || props[0].InterfaceMajor != 2 {
			t.Errorf("ListAllProperties() = %+v, want one row at major 2", props)
		}
	})
}

func TestStore_UnsetSentinel(t *testing.T) {
	for _, empty := range [][]byte{{}, nil} {
		forEachBackend(t, func(t *testing.T, s *Cache) {
			ctx := context.Background()

			if err := s.StoreProperty(ctx, sensorIface, "/sensor1/name", empty, 3); err != nil {
				t.Fatalf("StoreProperty() error = %v", err)
			}

			got, ok, err := s.LoadProperty(ctx, sensorIface, "/sensor1/name", 3)
			if err != nil {
				t.Fatalf("LoadProperty() error = %v", err)
			}
			if !ok {
				t.Fatal("LoadProperty() ok = false, want the unset value")
			}
			if !got.IsUnset() {
				t.Errorf("LoadProperty() = %v, want unset", got)
			}

			props, err := s.ListAllProperties(ctx)
			if err != nil {
				t.Fatalf("ListAllProperties() error = %v", err)
			}
			if len(props) != 1 || len(props[0].Value) != 0 {
				t.Errorf("ListAllProperties() = %+v, want one empty row", props)
			}
		})
	}
}

func TestStore_IdempotentDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Cache) {
		ctx := context.Background()

		if err := s.DeleteProperty(ctx, sensorIface, "/never"); err != nil {
			t.Fatalf("DeleteProperty() on missing key error = %v", err)
		}

		if err := s.StoreProperty(ctx, sensorIface, "/p", encode(t, codec.Boolean(true)), 1); err != nil {
			t.Fatalf("StoreProperty() error = %v", err)
		}
		for i := 0; i < 2; i++ {
			if err := s.DeleteProperty(ctx, sensorIface, "/p"); err != nil {
				t.Fatalf("DeleteProperty() #%d error = %v", i+1, err)
			}
		}
		if _, ok, err := s.LoadProperty(ctx, sensorIface, "/p", 1); err != nil || ok {
			t.Errorf("LoadProperty() after delete = ok %v, err %v; want absent", ok, err)
		}
	})
}

func TestStore_ClearWipesAll(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Cache) {
		ctx := context.Background()

		keys := []struct{ iface, path string }{
			{sensorIface, "/a"},
			{sensorIface, "/b"},
			{configIface, "/a"},
		}
		for _, k := range keys {
			if err := s.StoreProperty(ctx, k.iface, k.path, encode(t, codec.Integer(1)), 1); err != nil {
				t.Fatalf("StoreProperty() error = %v", err)
			}
		}

		if err := s.Clear(ctx); err != nil {
			t.Fatalf("Clear() error = %v", err)
		}

		props, err := s.ListAllProperties(ctx)
		if err != nil {
			t.Fatalf("ListAllProperties() error = %v", err)
		}
		if len(props) != 0 {
			t.Errorf("ListAllProperties() = %d rows after Clear(), want 0", len(props))
		}
		for _, k := range keys {
			if _, ok, err := s.LoadProperty(ctx, k.iface, k.path, 1); err != nil || ok {
				t.Errorf("LoadProperty(%s%s) after Clear() = ok %v, err %v", k.iface, k.path, ok, err)
			}
		}
	})
}

func TestStore_ListAllProperties(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Cache) {
		ctx := context.Background()

		want := []StoredProperty{
			{Interface: sensorIface, Path: "/sensor1/name", Value: encode(t, codec.String("thermo")), InterfaceMajor: 1},
			{Interface: sensorIface, Path: "/sensor1/unit", Value: []byte{}, InterfaceMajor: 1},
			{Interface: configIface, Path: "/sensor1/rate", Value: encode(t, codec.Integer(30)), InterfaceMajor: 4},
		}
		for _, p := range want {
			if err := s.StoreProperty(ctx, p.Interface, p.Path, p.Value, p.InterfaceMajor); err != nil {
				t.Fatalf("StoreProperty() error = %v", err)
			}
		}

		got, err := s.ListAllProperties(ctx)
		if err != nil {
			t.Fatalf("ListAllProperties() error = %v", err)
		}
		if len(got) != len(want) {
			t.Fatalf("ListAllProperties() = %d rows, want %d", len(got), len(want))
		}

		byKey := make(map[key]StoredProperty, len(got))
		for _, p := range got {
			byKey[p.key()] = p
		}
		for _, w := range want {
			g, ok := byKey[w.key()]
			if !ok {
				t.Errorf("missing row %s%s", w.Interface, w.Path)
				continue
			}
			if !bytes.Equal(g.Value, w.Value) || g.InterfaceMajor != w.InterfaceMajor {
				t.Errorf("row %s%s = %x@%d, want %x@%d", w.Interface, w.Path, g.Value, g.InterfaceMajor, w.Value, w.InterfaceMajor)
			}
		}

		// Ordered by interface then path.
		for i := 1; i < len(got); i++ {
			prev, cur := got[i-1], got[i]
			if prev.Interface > cur.Interface || (prev.Interface == cur.Interface && prev.Path > cur.Path) {
				t.Errorf("rows out of order at %d: %s%s before %s%s", i, prev.Interface, prev.Path, cur.Interface, cur.Path)
			}
		}
	})
}

func TestStore_AggregateIsInvariantViolation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Cache) {
		ctx := context.Background()

		obj, err := codec.NewCBOR().EncodeObject(map[string]codec.Scalar{"x": codec.Double(1)})
		if err != nil {
			t.Fatalf("EncodeObject() error = %v", err)
		}
		if err := s.StoreProperty(ctx, sensorIface, "/obj", obj, 1); err != nil {
			t.Fatalf("StoreProperty() error = %v", err)
		}

		_, ok, err := s.LoadProperty(ctx, sensorIface, "/obj", 1)
		if !errors.Is(err, ErrAggregateProperty) {
			t.Errorf("LoadProperty() error = %v, want %v", err, ErrAggregateProperty)
		}
		if ok {
			t.Error("LoadProperty() ok = true for an aggregate value")
		}
	})
}

func TestStore_MalformedValue(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Cache) {
		ctx := context.Background()

		if err := s.StoreProperty(ctx, sensorIface, "/bad", []byte{0x01}, 1); err != nil {
			t.Fatalf("StoreProperty() error = %v", err)
		}
		if _, _, err := s.LoadProperty(ctx, sensorIface, "/bad", 1); !errors.Is(err, codec.ErrMalformed) {
			t.Errorf("LoadProperty() error = %v, want %v", err, codec.ErrMalformed)
		}
	})
}

// openFileCache opens a Cache on the SQLite file at path, as a separate
// process would.
func openFileCache(t *testing.T, path string, decodeCache int) *Cache {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Driver:      database.DriverSQLite3,
		Path:        path,
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	repo, err := NewSQLiteRepository(context.Background(), db.DB, db.Driver())
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	return newTestCache(t, repo, decodeCache)
}

func TestStore_SharedDatabaseFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "props.db")
	device := openFileCache(t, path, 16)
	cli := openFileCache(t, path, 16)

	if err := device.StoreProperty(ctx, sensorIface, "/p", encode(t, codec.Integer(1)), 1); err != nil {
		t.Fatalf("StoreProperty() error = %v", err)
	}
	if got, ok, err := device.LoadProperty(ctx, sensorIface, "/p", 1); err != nil || !ok || !got.Equal(codec.Integer(1)) {
		t.Fatalf("LoadProperty() = %v, %v, %v; want 1, true, nil", got, ok, err)
	}

	if err := cli.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if got, ok, err := device.LoadProperty(ctx, sensorIface, "/p", 1); err != nil || ok {
		t.Errorf("LoadProperty() after Clear elsewhere = %v, %v, %v; want absent", got, ok, err)
	}

	if err := cli.StoreProperty(ctx, sensorIface, "/p", encode(t, codec.Integer(2)), 1); err != nil {
		t.Fatalf("StoreProperty() error = %v", err)
	}
	if got, ok, err := device.LoadProperty(ctx, sensorIface, "/p", 1); err != nil || !ok || !got.Equal(codec.Integer(2)) {
		t.Errorf("LoadProperty() = %v, %v, %v; want 2, true, nil", got, ok, err)
	}
}

// gatedRepository holds Put open after the row is written until release
// is closed.
type gatedRepository struct {
	*MemoryRepository
	written chan struct{}
	release chan struct{}
}

func (g *gatedRepository) Put(ctx context.Context, p StoredProperty) error {
	if err := g.MemoryRepository.Put(ctx, p); err != nil {
		return err
	}
	close(g.written)
	<-g.release
	return nil
}

func TestStore_DeleteDuringStore(t *testing.T) {
	for _, decodeCache := range []int{0, 16} {
		ctx := context.Background()
		repo := &gatedRepository{
			MemoryRepository: NewMemoryRepository(),
			written:          make(chan struct{}),
			release:          make(chan struct{}),
		}
		s := newTestCache(t, repo, decodeCache)
		value := encode(t, codec.Integer(1))

		var wg sync.WaitGroup
		wg.Add(1)
		var storeErr error
		go func() {
			defer wg.Done()
			storeErr = s.StoreProperty(ctx, sensorIface, "/p", value, 1)
		}()

		<-repo.written
		if err := s.DeleteProperty(ctx, sensorIface, "/p"); err != nil {
			t.Fatalf("DeleteProperty() error = %v", err)
		}
		close(repo.release)
		wg.Wait()
		if storeErr != nil {
			t.Fatalf("StoreProperty() error = %v", storeErr)
		}

		if got, ok, err := s.LoadProperty(ctx, sensorIface, "/p", 1); err != nil || ok {
			t.Errorf("decode cache %d: LoadProperty() = %v, %v, %v; want absent", decodeCache, got, ok, err)
		}
	}
}

func TestStore_DecodeCache(t *testing.T) {
	ctx := context.Background()
	s := newTestCache(t, NewMemoryRepository(), 8)

	for _, path := range []string{"/a", "/b"} {
		if err := s.StoreProperty(ctx, sensorIface, path, encode(t, codec.String("same")), 1); err != nil {
			t.Fatalf("StoreProperty() error = %v", err)
		}
	}
	for _, path := range []string{"/a", "/b", "/a"} {
		got, ok, err := s.LoadProperty(ctx, sensorIface, path, 1)
		if err != nil || !ok || !got.Equal(codec.String("same")) {
			t.Errorf("LoadProperty(%s) = %v, %v, %v", path, got, ok, err)
		}
	}
	if n := s.decoded.Len(); n != 1 {
		t.Errorf("decode cache holds %d values, want 1", n)
	}

	// Slice-backed values are decoded fresh on every load.
	if err := s.StoreProperty(ctx, sensorIface, "/blob", encode(t, codec.BinaryBlob([]byte{1, 2})), 1); err != nil {
		t.Fatalf("StoreProperty() error = %v", err)
	}
	first, _, err := s.LoadProperty(ctx, sensorIface, "/blob", 1)
	if err != nil {
		t.Fatalf("LoadProperty() error = %v", err)
	}
	first.Value().([]byte)[0] = 0xff

	second, _, err := s.LoadProperty(ctx, sensorIface, "/blob", 1)
	if err != nil {
		t.Fatalf("LoadProperty() error = %v", err)
	}
	if !second.Equal(codec.BinaryBlob([]byte{1, 2})) {
		t.Errorf("LoadProperty() = %v after caller mutation, want [1 2]", second.Value())
	}
}

// failingRepository fails every call with err.
type failingRepository struct {
	err error
}

func (f failingRepository) Get(context.Context, string, string) (*StoredProperty, error) {
	return nil, f.err
}
func (f failingRepository) Put(context.Context, StoredProperty) error { return f.err }
func (f failingRepository) Delete(context.Context, string, string) error { return f.err }
func (f failingRepository) Clear(context.Context) error { return f.err }
func (f failingRepository) List(context.Context) ([]StoredProperty, error) {
	return nil, f.err
}

func TestStore_StorageErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	errDisk := errors.New("disk I/O error")
	s := newTestCache(t, failingRepository{err: errDisk}, 4)

	checks := map[string]error{
		"StoreProperty":  s.StoreProperty(ctx, sensorIface, "/p", nil, 1),
		"DeleteProperty": s.DeleteProperty(ctx, sensorIface, "/p"),
		"Clear":          s.Clear(ctx),
	}
	_, _, checks["LoadProperty"] = s.LoadProperty(ctx, sensorIface, "/p", 1)
	_, checks["ListAllProperties"] = s.ListAllProperties(ctx)

	for op, err := range checks {
		if !errors.Is(err, errDisk) {
			t.Errorf("%s() error = %v, want %v", op, err, errDisk)
		}
	}
}

type recordingLogger struct {
	msgs []string
}

func (r *recordingLogger) Debug(msg string, _ ...any) {
	r.msgs = append(r.msgs, msg)
}

func TestStore_DebugLogging(t *testing.T) {
	ctx := context.Background()
	log := &recordingLogger{}
	s, err := New(NewMemoryRepository(), codec.NewCBOR(), Options{Logger: log})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := s.StoreProperty(ctx, sensorIface, "/u", []byte{}, 1); err != nil {
		t.Fatalf("StoreProperty() error = %v", err)
	}
	if _, _, err := s.LoadProperty(ctx, sensorIface, "/u", 1); err != nil {
		t.Fatalf("LoadProperty() error = %v", err)
	}
	if _, _, err := s.LoadProperty(ctx, sensorIface, "/u", 2); err != nil {
		t.Fatalf("LoadProperty() error = %v", err)
	}

	if len(log.msgs) != 2 {
		t.Errorf("logged %d debug entries, want 2: %q", len(log.msgs), log.msgs)
	}
}
