package model

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideUploads is returned for local image paths that do not resolve
// inside the upload root.
var ErrOutsideUploads = errors.New("image path outside upload directory")

var imageMIMETypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// LocalImages inlines images served by this host as base64 data URLs, since
// hosted providers cannot reach loopback addresses.
//
// Handled forms:
//
//	http://localhost:1888/uploads/cat.png
//	https://127.0.0.1:8080/uploads/cat.png
//	/uploads/cat.png
//
// Any other URL is left untouched.
type LocalImages struct {
	// Root is the directory that backs the /uploads/ URL prefix.
	Root string
	// Prefix is the URL path prefix mapped to Root. Defaults to "/uploads/".
	Prefix string
}

// Inline implements ImageInliner.
func (l LocalImages) Inline(raw string) (string, bool, error) {
	if strings.HasPrefix(raw, "data:") {
		return "", false, nil
	}
	var urlPath string
	switch {
	case isLoopbackURL(raw):
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		urlPath = u.Path
	case strings.HasPrefix(raw, l.prefix()):
		urlPath = raw
	default:
		return "", false, nil
	}

	path, err := l.resolve(urlPath)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, fmt.Errorf("read image: %w", err)
	}
	mime, ok := imageMIMETypes[strings.ToLower(filepath.Ext(path))]
	if !ok {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), true, nil
}

func (l LocalImages) prefix() string {
	if l.Prefix == "" {
		return "/uploads/"
	}
	return l.Prefix
}

func (l LocalImages) resolve(urlPath string) (string, error) {
	if !strings.HasPrefix(urlPath, l.prefix()) {
		return "", ErrOutsideUploads
	}
	rel := strings.TrimPrefix(urlPath, l.prefix())
	if decoded, err := url.PathUnescape(rel); err == nil {
		rel = decoded
	}
	root, err := filepath.Abs(l.Root)
	if err != nil {
		return "", err
	}
	full := filepath.Join(root, filepath.FromSlash(rel))
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", ErrOutsideUploads
	}
	return full, nil
}

func isLoopbackURL(s string) bool {
	for _, p := range []string{
		"http://localhost:", "http://127.0.0.1:",
		"https://localhost:", "https://127.0.0.1:",
	} {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
