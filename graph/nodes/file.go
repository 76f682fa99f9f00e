package nodes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dshills/nodeflow/graph"
	"github.com/dshills/nodeflow/graph/ctxpath"
)

// ErrUnsafeFilename is returned for file names that would land outside the
// upload directory.
var ErrUnsafeFilename = errors.New("file name escapes the upload directory")

// saveFile writes the rendered content to a file under the upload directory
// and publishes its path and public URL.
func (e *Executor) saveFile(_ context.Context, c *Call) (Outputs, error) {
	tpl := c.String("contentTemplate")
	if v, ok := c.Input("content"); ok {
		tpl = ctxpath.ToText(v)
	}
	content := c.Doc.Render(tpl)

	name := c.String("filename")
	if v, ok := c.Input("path"); ok {
		name = ctxpath.ToText(v)
	}
	if name == "" {
		name = c.Node.ID + "-" + strconv.FormatInt(e.now().UnixMilli(), 16) + ".txt"
	}

	target, err := e.uploadPath(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", name, err)
	}

	saved := map[string]any{
		"path": target,
		"url":  UploadURLPrefix + filepath.ToSlash(filepath.Clean(name)),
	}
	path := c.OutputPath("vars." + c.Node.ID + ".file")
	c.Doc.Set(path, saved)
	port := "result"
	if c.Node.Type == graph.TypeFile {
		port = "file"
	}
	c.Infof("file saved -> %s", path)
	return Outputs{port: saved}, nil
}

// uploadPath joins name onto the upload directory, rejecting absolute names
// and names that climb out of it.
func (e *Executor) uploadPath(name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %s", ErrUnsafeFilename, name)
	}
	clean := filepath.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafeFilename, name)
	}
	return filepath.Join(e.uploadDir, clean), nil
}

func (e *Executor) imagePlaceholder(_ context.Context, c *Call) (Outputs, error) {
	return e.placeholder(c, "image", "png")
}

func (e *Executor) videoPlaceholder(_ context.Context, c *Call) (Outputs, error) {
	return e.placeholder(c, "video", "mp4")
}

// placeholder publishes a mock:// URL standing in for generated media.
func (e *Executor) placeholder(c *Call, kind, ext string) (Outputs, error) {
	url := fmt.Sprintf("mock://%s/%s-%d.%s", kind, c.Node.ID, e.now().UnixMilli(), ext)
	path := c.OutputPath("vars." + c.Node.ID + "." + kind)
	c.Doc.Set(path, map[string]any{"url": url, "note": "placeholder " + kind})
	c.Infof("%s placeholder -> %s", kind, path)
	return Outputs{"out": map[string]any{"url": url}}, nil
}
