// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package gweb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// PipelineConfig holds configuration for the HTTP request pipeline
type PipelineConfig struct {
	UploadPath     string // Multipart avatar upload endpoint
	QueryPrefix    string // GET prefix followed by a read-only API name
	ChunkSize      int    // Body bytes fed to a sink per read
	MaxBodyBytes   int64  // Limit on JSON bodies
	MaxUploadBytes int64  // Limit on multipart upload bodies
}

const (
	DefaultUploadPath     = "/upload/avatar"
	DefaultQueryPrefix    = "/query/"
	DefaultChunkSize      = 32 << 10
	DefaultMaxBodyBytes   = 1 << 20
	DefaultMaxUploadBytes = 8 << 20
)

// DefaultPipelineConfig returns the pipeline defaults
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		UploadPath:     DefaultUploadPath,
		QueryPrefix:    DefaultQueryPrefix,
		ChunkSize:      DefaultChunkSize,
		MaxBodyBytes:   DefaultMaxBodyBytes,
		MaxUploadBytes: DefaultMaxUploadBytes,
	}
}

// notFoundBody is the fixed answer to requests that match no route
var notFoundBody = []byte(`{"status":{"code":"404","description":"Resource Not Found"}}`)

// Pipeline serves the API surface: JSON posts, GET query translation and avatar uploads
type Pipeline struct {
	dispatcher *Dispatcher
	avatars    *AvatarStore
	config     PipelineConfig
	logger     *slog.Logger
}

// NewPipeline creates the HTTP pipeline. avatars may be nil, in which case uploads
// are answered as unrecognized.
func NewPipeline(d *Dispatcher, avatars *AvatarStore, config PipelineConfig, logger *slog.Logger) *Pipeline {
	def := DefaultPipelineConfig()
	if config.UploadPath == "" {
		config.UploadPath = def.UploadPath
	}
	if config.QueryPrefix == "" {
		config.QueryPrefix = def.QueryPrefix
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = def.ChunkSize
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = def.MaxBodyBytes
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = def.MaxUploadBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{dispatcher: d, avatars: avatars, config: config, logger: logger}
}

func mediaType(r *http.Request) string {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mt
}

func (p *Pipeline) classify(r *http.Request) (requestClass, string) {
	switch r.Method {
	case http.MethodPost:
		mt := mediaType(r)
		if r.URL.Path == p.config.UploadPath {
			if mt == "multipart/form-data" && p.avatars != nil {
				return classAvatarUpload, ""
			}
			return classUnrecognized, ""
		}
		if mt == "application/json" {
			return classJSONPost, ""
		}
	case http.MethodGet:
		if name, ok := strings.CutPrefix(r.URL.Path, p.config.QueryPrefix); ok {
			if api, found := LookupAPI(name); found && api.ReadOnly {
				return classGetAsJSON, name
			}
		}
	}
	return classUnrecognized, ""
}

// ServeHTTP classifies the request, streams its body into the bound sink, dispatches on
// completion and releases every per-request resource on the way out
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	class, api := p.classify(r)
	if class == classUnrecognized {
		p.writeBody(w, http.StatusNotFound, notFoundBody)
		return
	}

	ctx := r.Context()
	var (
		sink bodySink
		body io.Reader
	)
	switch class {
	case classJSONPost:
		sink = newJSONSink(p.dispatcher, p.config.MaxBodyBytes)
		body = http.MaxBytesReader(w, r.Body, p.config.MaxBodyBytes)
	case classGetAsJSON:
		sink = newJSONSink(p.dispatcher, p.config.MaxBodyBytes)
	case classAvatarUpload:
		r.Body = http.MaxBytesReader(w, r.Body, p.config.MaxUploadBytes)
		sink = &uploadSink{store: p.avatars, state: p.avatars.Begin()}
	}

	conn := newConnection(uuid.NewString(), class, sink, p.logger)
	defer conn.terminate()

	var err error
	switch class {
	case classJSONPost:
		err = p.streamBody(ctx, conn, body)
	case classGetAsJSON:
		var wire []byte
		if wire, err = QueryToWire(api, r.URL.Query()); err == nil {
			if err = conn.feed(ctx, Block{Data: wire}); err == nil {
				err = conn.feed(ctx, Block{})
			}
		}
	case classAvatarUpload:
		err = p.streamMultipart(ctx, conn, r)
	}
	if err != nil {
		p.writeFailure(w, conn, err)
		return
	}

	res, err := conn.complete(ctx)
	if err != nil {
		p.writeFailure(w, conn, err)
		return
	}
	p.writeBody(w, res.HTTPStatus(), res.Body)
}

// streamBody feeds a plain body chunk by chunk; EOF becomes the zero-length final chunk
func (p *Pipeline) streamBody(ctx context.Context, conn *connection, body io.Reader) error {
	buf := make([]byte, p.config.ChunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if ferr := conn.feed(ctx, Block{Data: buf[:n]}); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return conn.feed(ctx, Block{})
		}
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
	}
}

// streamMultipart feeds every part of an upload as keyed blocks. A part may carry a
// Content-Range header placing its bytes at an absolute offset within its key.
func (p *Pipeline) streamMultipart(ctx context.Context, conn *connection, r *http.Request) error {
	mr, err := r.MultipartReader()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	offsets := make(map[string]int64)
	buf := make([]byte, p.config.ChunkSize)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if err := p.feedPart(ctx, conn, part, offsets, buf); err != nil {
			_ = part.Close()
			return err
		}
		_ = part.Close()
	}
	return conn.feed(ctx, Block{})
}

func (p *Pipeline) feedPart(ctx context.Context, conn *connection, part *multipart.Part, offsets map[string]int64, buf []byte) error {
	key := part.FormName()
	if key == "" {
		return nil
	}
	offset := offsets[key]
	if cr := part.Header.Get("Content-Range"); cr != "" {
		start, err := parseContentRangeStart(cr)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		offset = start
	}
	contentType := part.Header.Get("Content-Type")

	for {
		n, err := part.Read(buf)
		if n > 0 {
			if ferr := conn.feed(ctx, Block{Key: key, Data: buf[:n], Offset: offset, ContentType: contentType}); ferr != nil {
				return ferr
			}
			offset += int64(n)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read part %s: %w", key, err)
		}
	}
	offsets[key] = offset
	return nil
}

// parseContentRangeStart returns the first byte position of "bytes start-end/total"
func parseContentRangeStart(v string) (int64, error) {
	rng, ok := strings.CutPrefix(strings.TrimSpace(v), "bytes ")
	if !ok {
		return 0, fmt.Errorf("unsupported content range %q", v)
	}
	first, _, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, fmt.Errorf("malformed content range %q", v)
	}
	start, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil || start < 0 {
		return 0, fmt.Errorf("malformed content range %q", v)
	}
	return start, nil
}

func (p *Pipeline) writeFailure(w http.ResponseWriter, conn *connection, err error) {
	if errors.Is(err, ErrUnknownAPI) {
		p.logger.Debug("No API in request", "conn", conn.id, "error", err)
		p.writeBody(w, http.StatusNotFound, notFoundBody)
		return
	}

	outcome := OutcomeOf(err)
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr), errors.Is(err, ErrMalformedPayload):
		p.logger.Warn("Rejected request body", "conn", conn.id, "class", conn.class.String(), "error", err)
	case outcome == OutcomeUnknown:
		p.logger.Error("Request failed", "conn", conn.id, "class", conn.class.String(), "error", err)
	default:
		p.logger.Debug("Request failed", "conn", conn.id, "class", conn.class.String(),
			"outcome", outcome.String(), "error", err)
	}

	st := StatusFor(outcome)
	body := fmt.Appendf(nil, `{"status":{"code":%q,"description":%q}}`, st.Code, st.Description)
	p.writeBody(w, http.StatusNotFound, body)
}

func (p *Pipeline) writeBody(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		p.logger.Error("Failed to write response", "error", err)
	}
}
