package repo

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/Chative-data-agent/server/internal/agent/model"
	errx "github.com/Chative-data-agent/server/internal/core/error"
	logx "github.com/Chative-data-agent/server/pkg/logger"
)

// ObjectClient is the subset of the object store client artifacts need.
type ObjectClient interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// ObjectArtifactStore stores artifacts under <conversation>/<name> in a bucket.
type ObjectArtifactStore struct {
	client ObjectClient
	prefix string
}

func NewObjectArtifactStore(client ObjectClient, prefix string) *ObjectArtifactStore {
	return &ObjectArtifactStore{client: client, prefix: strings.Trim(prefix, "/")}
}

func (s *ObjectArtifactStore) key(conversationID, name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	if conversationID == "" {
		conversationID = "_"
	}
	return path.Join(s.prefix, conversationID, name), nil
}

func (s *ObjectArtifactStore) Save(ctx context.Context, conversationID, name string, data []byte, mimeType string) error {
	key, err := s.key(conversationID, name)
	if err != nil {
		return err
	}
	if err := s.client.Put(ctx, key, data, mimeType); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to save artifact")
		return errx.WrapStorage(err)
	}
	logx.Debug().Str("key", key).Int("bytes", len(data)).Str("mime", mimeType).Msg("artifact saved")
	return nil
}

func (s *ObjectArtifactStore) Load(ctx context.Context, conversationID, name string) ([]byte, error) {
	key, err := s.key(conversationID, name)
	if err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, key)
	if err != nil {
		return nil, errx.WrapStorage(err)
	}
	return data, nil
}

type artifact struct {
	data     []byte
	mimeType string
}

// MemoryArtifactStore keeps artifacts in process.
type MemoryArtifactStore struct {
	mu    sync.RWMutex
	items map[string]artifact
}

func NewMemoryArtifactStore() *MemoryArtifactStore {
	return &MemoryArtifactStore{items: make(map[string]artifact)}
}

func (s *MemoryArtifactStore) Save(_ context.Context, conversationID, name string, data []byte, mimeType string) error {
	if err := checkName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[conversationID+"/"+name] = artifact{data: append([]byte(nil), data...), mimeType: mimeType}
	return nil
}

func (s *MemoryArtifactStore) Load(_ context.Context, conversationID, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.items[conversationID+"/"+name]
	if !ok {
		return nil, errx.New(fmt.Errorf("artifact %s/%s: %w", conversationID, name, errx.ErrNotFound), http.StatusNotFound, errx.StorageNotFoundMessage)
	}
	return append([]byte(nil), a.data...), nil
}

// Names lists the stored artifact names of a conversation.
func (s *MemoryArtifactStore) Names(conversationID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for k := range s.items {
		if name, ok := strings.CutPrefix(k, conversationID+"/"); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// MIMEType returns the content type an artifact was saved with.
func (s *MemoryArtifactStore) MIMEType(conversationID, name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[conversationID+"/"+name].mimeType
}

func checkName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return errx.InvalidInput("invalid artifact name %q", name)
	}
	return nil
}

var (
	_ model.ArtifactStore = (*ObjectArtifactStore)(nil)
	_ model.ArtifactStore = (*MemoryArtifactStore)(nil)
)
