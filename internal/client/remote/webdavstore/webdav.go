// Package webdavstore implements remote.Store on a WebDAV share.
package webdavstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/memovault/internal/client/remote"
	"github.com/dmitrijs2005/memovault/internal/common"
	"github.com/studio-b12/gowebdav"
)

type Config struct {
	Endpoint string
	User     string
	Password string
	// Root is the collection that holds the store, e.g. "/memovault".
	Root    string
	Timeout time.Duration
}

type Store struct {
	client *gowebdav.Client
	root   string
}

func New(c Config) (*Store, error) {
	if c.Endpoint == "" {
		return nil, fmt.Errorf("%w: webdav endpoint is required", common.ErrValidation)
	}
	client := gowebdav.NewClient(c.Endpoint, c.User, c.Password)
	if c.Timeout > 0 {
		client.SetTimeout(c.Timeout)
	}
	return &Store{client: client, root: "/" + strings.Trim(c.Root, "/")}, nil
}

func (s *Store) path(key string) string { return path.Join(s.root, key) }

func (s *Store) Upload(ctx context.Context, key string, data []byte) error {
	if err := remote.ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify("webdav put "+key, s.client.Write(s.path(key), data, 0o600))
}

func (s *Store) Download(ctx context.Context, key string) ([]byte, error) {
	if err := remote.ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.client.Read(s.path(key))
	if err != nil {
		return nil, classify("webdav get "+key, err)
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := remote.ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := classify("webdav delete "+key, s.client.Remove(s.path(key)))
	if errors.Is(err, remote.ErrObjectNotFound) {
		return nil
	}
	return err
}

// List walks the collection tree below the deepest directory in prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	dir := ""
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dir = prefix[:i]
	}

	keys := make([]string, 0)
	if err := s.walk(ctx, dir, prefix, &keys); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) walk(ctx context.Context, dir, prefix string, keys *[]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	infos, err := s.client.ReadDir(s.path(dir))
	if err != nil {
		err = classify("webdav list "+dir, err)
		if errors.Is(err, remote.ErrObjectNotFound) {
			return nil
		}
		return err
	}
	for _, fi := range infos {
		key := fi.Name()
		if dir != "" {
			key = dir + "/" + fi.Name()
		}
		if fi.IsDir() {
			if strings.HasPrefix(key+"/", prefix) || strings.HasPrefix(prefix, key+"/") {
				if err := s.walk(ctx, key, prefix, keys); err != nil {
					return err
				}
			}
			continue
		}
		if strings.HasPrefix(key, prefix) {
			*keys = append(*keys, key)
		}
	}
	return nil
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se gowebdav.StatusError
	if errors.As(err, &se) {
		return remote.HTTPStatusError(op, se.Status, err)
	}
	return remote.Classify(op, err)
}
