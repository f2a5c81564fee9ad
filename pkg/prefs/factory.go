package prefs

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/calvinalkan/bytekv/pkg/kv"
)

// Factory builds file-backed [Prefs] with shared settings.
type Factory struct {
	// Strict syncs every write to stable storage before it returns.
	Strict bool

	// Backup selects [kv.BackupBackend] instead of [kv.RenameBackend].
	Backup bool

	// Streams transforms the file bytes. Nil means none.
	Streams kv.StreamWrapper

	// OnError handles errors of every Prefs built. Nil means [PanicOnError].
	OnError ErrorHandler

	// Logger receives store events. Nil discards them.
	Logger *zerolog.Logger
}

// New returns Prefs for the store file at path. The backend and store are
// created on first use.
func (f Factory) New(path string) *Prefs {
	return New(&lazyStore{open: func() *kv.Store { return f.open(path) }}, f.OnError)
}

func (f Factory) open(path string) *kv.Store {
	log := zerolog.Nop()
	if f.Logger != nil {
		log = f.Logger.With().Str("path", path).Logger()
	}

	opts := kv.FileOptions{Strict: f.Strict, Streams: f.Streams, Logger: &log}

	var backend kv.Backend
	if f.Backup {
		backend = kv.NewBackupBackend(path, opts)
	} else {
		backend = kv.NewRenameBackend(path, opts)
	}

	return kv.Open(backend, kv.WithLogger(log))
}

// lazyStore creates its store on the first call.
type lazyStore struct {
	once  sync.Once
	open  func() *kv.Store
	store *kv.Store
}

func (l *lazyStore) get() *kv.Store {
	l.once.Do(func() { l.store = l.open() })

	return l.store
}

func (l *lazyStore) Load() error { return l.get().Load() }

func (l *lazyStore) Get(key []byte) ([]byte, bool, error) { return l.get().Get(key) }

func (l *lazyStore) Put(key, value []byte) error { return l.get().Put(key, value) }

func (l *lazyStore) PutBatch(pairs ...kv.KV) error { return l.get().PutBatch(pairs...) }

func (l *lazyStore) Remove(key []byte) (bool, error) { return l.get().Remove(key) }

func (l *lazyStore) Clear() error { return l.get().Clear() }
