package swarm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
	"go.uber.org/zap"
)

// TorrentConfig configures the BitTorrent engine.
type TorrentConfig struct {
	DataDir    string
	ListenPort int
}

type seededTorrent struct {
	t       *torrent.Torrent
	storage storage.ClientImplCloser
	name    string
}

// TorrentEngine seeds stored files with anacrolix/torrent. DHT is disabled;
// peers find the content through trackers and the HTTP web seed.
type TorrentEngine struct {
	client *torrent.Client
	logger *zap.Logger

	mu       sync.Mutex
	torrents map[string]seededTorrent
	closed   bool
}

// NewTorrentEngine starts a seed-only torrent client.
func NewTorrentEngine(cfg TorrentConfig, logger *zap.Logger) (*TorrentEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg := torrent.NewDefaultClientConfig()
	clientCfg.Seed = true
	clientCfg.NoDHT = true
	clientCfg.NoDefaultPortForwarding = true
	clientCfg.ListenPort = cfg.ListenPort
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create swarm data dir: %w", err)
		}
		clientCfg.DataDir = cfg.DataDir
	}

	client, err := torrent.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create torrent client: %w", err)
	}
	logger.Info("torrent client started", zap.Any("listen_addrs", client.ListenAddrs()))

	return &TorrentEngine{
		client:   client,
		logger:   logger,
		torrents: make(map[string]seededTorrent),
	}, nil
}

// Seed hashes the file into a single-file torrent and serves it in place.
func (e *TorrentEngine) Seed(ctx context.Context, req SeedRequest) (SeedResult, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return SeedResult{}, ErrEngineClosed
	}

	stat, err := os.Stat(req.FilePath)
	if err != nil {
		return SeedResult{}, err
	}

	info := metainfo.Info{PieceLength: metainfo.ChoosePieceLength(stat.Size())}
	if err := info.BuildFromFilePath(req.FilePath); err != nil {
		return SeedResult{}, fmt.Errorf("build metainfo: %w", err)
	}
	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		return SeedResult{}, fmt.Errorf("encode metainfo: %w", err)
	}
	hash := metainfo.HashBytes(infoBytes)
	hexHash := hash.HexString()

	name := req.DisplayName
	if name == "" {
		name = info.Name
	}

	e.mu.Lock()
	_, seeding := e.torrents[hexHash]
	e.mu.Unlock()
	if !seeding {
		if err := e.add(ctx, hash, infoBytes, filepath.Dir(req.FilePath), name, req); err != nil {
			return SeedResult{}, err
		}
	}

	locator, err := BuildLocator(hexHash, name, req.Trackers, req.WebSeeds)
	if err != nil {
		return SeedResult{}, err
	}
	return SeedResult{InfoHash: hexHash, Locator: locator}, nil
}

func (e *TorrentEngine) add(ctx context.Context, hash metainfo.Hash, infoBytes []byte, dir, name string, req SeedRequest) error {
	// The metainfo was just generated from the file itself, so pieces are
	// trusted without an initial verification pass.
	store := storage.NewFileOpts(storage.NewFileClientOpts{
		ClientBaseDir: dir,
		FilePathMaker: func(opts storage.FilePathMakerOpts) string {
			return filepath.Join(append([]string{opts.Info.Name}, opts.File.Path...)...)
		},
		PieceCompletion: allComplete{},
	})

	spec := &torrent.TorrentSpec{
		InfoHash:                 hash,
		InfoBytes:                infoBytes,
		Storage:                  store,
		DisableInitialPieceCheck: true,
	}
	if len(req.Trackers) > 0 {
		spec.Trackers = [][]string{req.Trackers}
	}
	t, _, err := e.client.AddTorrentSpec(spec)
	if err != nil {
		store.Close()
		return fmt.Errorf("add torrent: %w", err)
	}

	t.SetDisplayName(name)
	if len(req.WebSeeds) > 0 {
		t.AddWebSeeds(req.WebSeeds)
	}

	select {
	case <-t.GotInfo():
	case <-ctx.Done():
		t.Drop()
		store.Close()
		return ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		t.Drop()
		store.Close()
		return ErrEngineClosed
	}
	e.torrents[hash.HexString()] = seededTorrent{t: t, storage: store, name: name}
	e.logger.Debug("seeding", zap.String("info_hash", hash.HexString()), zap.String("name", name))
	return nil
}

// Drop stops seeding a torrent.
func (e *TorrentEngine) Drop(infoHash string) error {
	e.mu.Lock()
	entry, ok := e.torrents[infoHash]
	delete(e.torrents, infoHash)
	e.mu.Unlock()
	if !ok {
		return nil
	}

	entry.t.Drop()
	return entry.storage.Close()
}

// Close drops every torrent and shuts the client down.
func (e *TorrentEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	entries := e.torrents
	e.torrents = make(map[string]seededTorrent)
	e.mu.Unlock()

	var errs []error
	for _, entry := range entries {
		entry.t.Drop()
		if err := entry.storage.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, e.client.Close()...)
	return errors.Join(errs...)
}

// allComplete reports every piece as present.
type allComplete struct{}

func (allComplete) Get(metainfo.PieceKey) (storage.Completion, error) {
	return storage.Completion{Complete: true, Ok: true}, nil
}

func (allComplete) Set(metainfo.PieceKey, bool) error {
	return nil
}

func (allComplete) Close() error {
	return nil
}
