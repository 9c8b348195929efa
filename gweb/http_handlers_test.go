// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package gweb

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newTestPipeline(t *testing.T, config PipelineConfig) (*Pipeline, *AvatarStore, string) {
	t.Helper()
	store, d, id := newTestAvatarStore(t)
	return NewPipeline(d, store, config, discardLogger()), store, id
}

func serve(p *Pipeline, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, r)
	return rec
}

func postJSON(p *Pipeline, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json; charset=utf-8")
	return serve(p, r)
}

func TestPipeline_UnrecognizedRequests(t *testing.T) {
	p, _, _ := newTestPipeline(t, PipelineConfig{})

	requests := map[string]*http.Request{
		"put":                httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{}`)),
		"post text":          httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)),
		"get unknown api":    httptest.NewRequest(http.MethodGet, "/query/nope", nil),
		"get mutating api":   httptest.NewRequest(http.MethodGet, "/query/registration?fname=x", nil),
		"get outside prefix": httptest.NewRequest(http.MethodGet, "/profile_query?id=x", nil),
		"json to upload":     httptest.NewRequest(http.MethodPost, DefaultUploadPath, strings.NewReader(`{}`)),
	}
	requests["post text"].Header.Set("Content-Type", "text/plain")
	requests["json to upload"].Header.Set("Content-Type", "application/json")

	for name, r := range requests {
		t.Run(name, func(t *testing.T) {
			rec := serve(p, r)
			require.Equal(t, http.StatusNotFound, rec.Code)
			require.Equal(t, string(notFoundBody), rec.Body.String())
			require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestPipeline_JSONPostInSmallChunks(t *testing.T) {
	p, _, _ := newTestPipeline(t, PipelineConfig{ChunkSize: 7})

	rec := postJSON(p, `{"registration":{"fname":"Bob","email":"bob@example.com","phone":"1002","password":"pw"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := gjson.Parse(rec.Body.String())
	requireOK(t, out)
	require.Equal(t, DeriveUserID("1002", "bob@example.com"), out.Get("id").String())
	require.Equal(t, fmt.Sprint(rec.Body.Len()), rec.Header().Get("Content-Length"))
}

func TestPipeline_JSONFailures(t *testing.T) {
	p, _, _ := newTestPipeline(t, PipelineConfig{MaxBodyBytes: 256})

	rec := postJSON(p, `{"registration":`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, `{"status":{"code":"404","description":"Unknown Error"}}`, rec.Body.String())

	rec = postJSON(p, `{"no_such_api":{"id":"x"}}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, string(notFoundBody), rec.Body.String())

	rec = postJSON(p, `{"login":{"email":"nobody@example.com","password":"pw"}}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, `{"status":{"code":"404","description":"Record Not Found"}}`, rec.Body.String())

	rec = postJSON(p, `{"login":{"email":"`+strings.Repeat("a", 512)+`"}}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, `{"status":{"code":"404","description":"Unknown Error"}}`, rec.Body.String())
}

func TestPipeline_GetQueryTranslatesParameters(t *testing.T) {
	p, _, id := newTestPipeline(t, PipelineConfig{})

	rec := serve(p, httptest.NewRequest(http.MethodGet, "/query/profile_query?id="+id, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := gjson.Parse(rec.Body.String())
	requireOK(t, out)
	require.Equal(t, "Ann", out.Get("fname").String())

	rec = serve(p, httptest.NewRequest(http.MethodGet, "/query/conn_pref_query", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, `{"status":{"code":"200","description":"OK"},"count":"0","returned":"0","array1":[]}`, rec.Body.String())

	rec = serve(p, httptest.NewRequest(http.MethodGet, "/query/avatar_query?id=ghost", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, `{"status":{"code":"404","description":"Record Not Found"}}`, rec.Body.String())
}

type uploadPart struct {
	name         string
	data         []byte
	contentRange string
	contentType  string
}

func multipartRequest(t *testing.T, path string, parts ...uploadPart) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, part := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename="blob"`, part.name))
		if part.contentType != "" {
			h.Set("Content-Type", part.contentType)
		}
		if part.contentRange != "" {
			h.Set("Content-Range", part.contentRange)
		}
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(part.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, path, &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func TestPipeline_AvatarUploadWithRanges(t *testing.T) {
	p, store, id := newTestPipeline(t, PipelineConfig{ChunkSize: 4})
	data := imageBytes(20)

	r := multipartRequest(t, DefaultUploadPath,
		uploadPart{name: UploadKeyID, data: []byte(id)},
		uploadPart{name: UploadKeyImage, data: data[10:], contentRange: "bytes 10-19/20"},
		uploadPart{name: UploadKeyImage, data: data[:10], contentRange: "bytes 0-9/20"},
	)
	rec := serve(p, r)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := gjson.Parse(rec.Body.String())
	requireOK(t, out)
	require.Equal(t, id, out.Get("id").String())
	require.Equal(t, store.referenceURL(id), out.Get("url").String())

	mirrored, err := os.ReadFile(store.mirrorPath(id))
	require.NoError(t, err)
	require.Equal(t, data, mirrored)
}

func TestPipeline_AvatarUploadSequentialParts(t *testing.T) {
	p, store, id := newTestPipeline(t, PipelineConfig{})
	data := imageBytes(12)

	// parts without ranges continue where the previous part of the same name ended
	rec := serve(p, multipartRequest(t, DefaultUploadPath,
		uploadPart{name: UploadKeyID, data: []byte(id)},
		uploadPart{name: UploadKeyImage, data: data[:5]},
		uploadPart{name: UploadKeyImage, data: data[5:]},
	))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	mirrored, err := os.ReadFile(store.mirrorPath(id))
	require.NoError(t, err)
	require.Equal(t, data, mirrored)
}

func TestPipeline_AvatarUploadFailures(t *testing.T) {
	p, _, id := newTestPipeline(t, PipelineConfig{})

	rec := serve(p, multipartRequest(t, DefaultUploadPath,
		uploadPart{name: UploadKeyID, data: []byte("ghost")},
		uploadPart{name: UploadKeyImage, data: []byte("abc")},
	))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, `{"status":{"code":"404","description":"Record Not Found"}}`, rec.Body.String())

	rec = serve(p, multipartRequest(t, DefaultUploadPath,
		uploadPart{name: UploadKeyImage, data: []byte("abc")},
		uploadPart{name: UploadKeyID, data: []byte(id)},
	))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, `{"status":{"code":"404","description":"Unknown Error"}}`, rec.Body.String())

	rec = serve(p, multipartRequest(t, DefaultUploadPath,
		uploadPart{name: UploadKeyID, data: []byte(id)},
		uploadPart{name: UploadKeyImage, data: []byte("abc"), contentRange: "lines 1-2"},
	))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParseContentRangeStart(t *testing.T) {
	start, err := parseContentRangeStart("bytes 1024-2047/4096")
	require.NoError(t, err)
	require.EqualValues(t, 1024, start)

	start, err = parseContentRangeStart(" bytes 0-9/*")
	require.NoError(t, err)
	require.Zero(t, start)

	for _, bad := range []string{"bytes", "bytes x-9/10", "items 0-9/10", "bytes -5-9/10"} {
		_, err := parseContentRangeStart(bad)
		require.Error(t, err, bad)
	}
}
