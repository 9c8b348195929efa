// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package gweb

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Multipart part names and encodings of an avatar upload
const (
	UploadKeyID    = "id"
	UploadKeyImage = "image"

	EncodingRaw    = "raw"
	EncodingBase64 = "base64"

	// Base64ContentType tags an image part whose bytes are base64 text
	Base64ContentType = "image/base64"
)

// AvatarConfig locates the avatar cache and the durable storage mirror
type AvatarConfig struct {
	CacheDir  string // Per-upload cache files av_<id>.dat
	MountDir  string // Durable storage mount point
	Folder    string // Folder (bucket) inside MountDir
	URLPrefix string // Prefix of the reference recorded for the user
}

// AvatarStore receives avatar uploads block by block and mirrors finished uploads
// to durable storage
type AvatarStore struct {
	dispatcher *Dispatcher
	config     AvatarConfig
	logger     *slog.Logger
}

// NewAvatarStore creates the cache directory and returns a store dispatching through d
func NewAvatarStore(d *Dispatcher, config AvatarConfig, logger *slog.Logger) (*AvatarStore, error) {
	if d == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if config.CacheDir == "" {
		config.CacheDir = filepath.Join(os.TempDir(), "gweb-avatar-cache")
	}
	if config.MountDir == "" {
		return nil, fmt.Errorf("avatar mount directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(config.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create avatar cache dir: %w", err)
	}
	return &AvatarStore{dispatcher: d, config: config, logger: logger}, nil
}

// UploadState tracks one avatar upload. The id must be validated before the first
// image byte is written; the first image block fixes the encoding.
type UploadState struct {
	ID       string
	Size     int64
	Encoding string

	idBuf     strings.Builder
	valid     bool
	file      *os.File
	closeOnce sync.Once
}

// Begin starts a new upload
func (s *AvatarStore) Begin() *UploadState {
	return &UploadState{}
}

// MirrorDir returns the durable folder finished avatars are published into
func (s *AvatarStore) MirrorDir() string {
	return filepath.Join(s.config.MountDir, s.config.Folder)
}

func (s *AvatarStore) cachePath(id string) string {
	return filepath.Join(s.config.CacheDir, "av_"+id+".dat")
}

func (s *AvatarStore) mirrorPath(id string) string {
	return filepath.Join(s.MirrorDir(), "av_"+id+".dat")
}

func (s *AvatarStore) referenceURL(id string) string {
	name := "av_" + id + ".dat"
	parts := make([]string, 0, 3)
	for _, p := range []string{strings.TrimRight(s.config.URLPrefix, "/"), strings.Trim(s.config.Folder, "/"), name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}

// validate checks the accumulated id against the registered users
func (s *AvatarStore) validate(ctx context.Context, st *UploadState) error {
	if st.valid {
		return nil
	}
	id := strings.TrimSpace(st.idBuf.String())
	if id == "" {
		return fmt.Errorf("%w: image data before id", ErrUploadNotValidated)
	}
	if strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: invalid id %q", ErrUploadNotValidated, id)
	}
	ok, err := s.dispatcher.Engine().UserExists(ctx, id)
	if err != nil {
		return fmt.Errorf("validate upload id: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %w: user %s", ErrUploadNotValidated, ErrNoRecord, id)
	}
	st.ID = id
	st.valid = true
	return nil
}

// WriteBlock stores one block of an upload. Image blocks are written at their offset,
// so blocks may arrive out of order or be resent.
func (s *AvatarStore) WriteBlock(ctx context.Context, st *UploadState, b Block) error {
	engine := s.dispatcher.Engine()
	start := engine.stageStart()

	switch b.Key {
	case UploadKeyID:
		if st.valid {
			return fmt.Errorf("%w: id sent after image data", ErrUploadNotValidated)
		}
		st.idBuf.Write(b.Data)
		return nil

	case UploadKeyImage:
		if err := s.validate(ctx, st); err != nil {
			engine.observeStage(ctx, APIUpdateAvatar, MetricsStageUploadBlock, start, 0, true)
			return err
		}
		if b.Offset < 0 {
			return fmt.Errorf("negative block offset %d", b.Offset)
		}
		if b.Offset == 0 && st.Encoding == "" {
			st.Encoding = EncodingRaw
			if strings.EqualFold(strings.TrimSpace(b.ContentType), Base64ContentType) {
				st.Encoding = EncodingBase64
			}
		}
		if st.file == nil {
			f, err := os.OpenFile(s.cachePath(st.ID), os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
			if err != nil {
				return fmt.Errorf("open avatar cache file: %w", err)
			}
			st.file = f
		}
		if _, err := st.file.WriteAt(b.Data, b.Offset); err != nil {
			engine.observeStage(ctx, APIUpdateAvatar, MetricsStageUploadBlock, start, 0, true)
			return fmt.Errorf("write avatar block at %d: %w", b.Offset, err)
		}
		if end := b.Offset + int64(len(b.Data)); end > st.Size {
			st.Size = end
		}
		engine.observeStage(ctx, APIUpdateAvatar, MetricsStageUploadBlock, start, len(b.Data), false)
		return nil

	default:
		s.logger.Debug("Ignoring unknown upload part", "key", b.Key)
		return nil
	}
}

// Finalize mirrors the cache file to durable storage, records the new reference and
// answers with the user's avatar as stored
func (s *AvatarStore) Finalize(ctx context.Context, st *UploadState) (*Result, error) {
	engine := s.dispatcher.Engine()
	start := engine.stageStart()

	if err := s.validate(ctx, st); err != nil {
		return nil, err
	}
	if st.file == nil {
		return nil, fmt.Errorf("%w: upload for %s carried no image", ErrNoRecord, st.ID)
	}

	if err := s.mirror(st); err != nil {
		engine.observeStage(ctx, APIUpdateAvatar, MetricsStageUploadComplete, start, 0, true)
		return nil, err
	}
	engine.observeStage(ctx, APIUpdateAvatar, MetricsStageUploadComplete, start, int(st.Size), false)

	update := NewMessage(KindAvatar).
		Set(FieldAvatarID, st.ID).
		Set(FieldAvatarURL, s.referenceURL(st.ID))
	res, err := s.dispatcher.DispatchMessage(ctx, update)
	if err != nil {
		return nil, err
	}
	if res.Outcome != OutcomeOK {
		return res, nil
	}

	s.logger.Info("Avatar stored", "uid", st.ID, "bytes", st.Size, "encoding", st.Encoding)
	return s.dispatcher.DispatchMessage(ctx, NewMessage(KindAvatarQuery).Set(FieldAvatarQueryID, st.ID))
}

// mirror copies the cache file into the durable folder through a temp file and rename
func (s *AvatarStore) mirror(st *UploadState) error {
	var src io.Reader = io.NewSectionReader(st.file, 0, st.Size)
	if st.Encoding == EncodingBase64 {
		src = base64.NewDecoder(base64.StdEncoding, &spaceSkipper{r: src})
	}

	dst := s.mirrorPath(st.ID)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create avatar folder: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "av_*.tmp")
	if err != nil {
		return fmt.Errorf("create avatar temp file: %w", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		cleanup()
		if isCorruptBase64(err) {
			return fmt.Errorf("%w: avatar is not valid base64: %v", ErrMalformedPayload, err)
		}
		return fmt.Errorf("copy avatar to storage: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync avatar file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close avatar file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		cleanup()
		return fmt.Errorf("publish avatar file: %w", err)
	}
	return nil
}

// spaceSkipper drops ASCII whitespace so wrapped or padded base64 text decodes
type spaceSkipper struct {
	r io.Reader
}

func (s *spaceSkipper) Read(p []byte) (int, error) {
	for {
		n, err := s.r.Read(p)
		kept := 0
		for _, c := range p[:n] {
			switch c {
			case ' ', '\t', '\n', '\r', '\v', '\f':
				continue
			}
			p[kept] = c
			kept++
		}
		if kept > 0 || err != nil || n == 0 {
			return kept, err
		}
	}
}

func isCorruptBase64(err error) bool {
	var corrupt base64.CorruptInputError
	return errors.As(err, &corrupt)
}

// Close releases the cache file handle. The cache file itself is kept.
func (st *UploadState) Close() error {
	var err error
	st.closeOnce.Do(func() {
		if st.file != nil {
			err = st.file.Close()
			st.file = nil
		}
	})
	return err
}
