// SPDX-License-Identifier: BSD-2-Clause

package fastimport

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gitlab.com/cc2git/cc2git/vgraph"
)

// Blobs resolves the content reference of a file version to bytes.
// Open returns the content and its exact length.
type Blobs interface {
	Open(v *vgraph.Version) (io.ReadCloser, int64, error)
}

// DirBlobs reads content references as slash-separated paths under a
// root directory, the layout a repository exporter leaves behind.
type DirBlobs struct {
	Root string
}

// Open implements Blobs.
func (d DirBlobs) Open(v *vgraph.Version) (io.ReadCloser, int64, error) {
	if v.Content == "" {
		return io.NopCloser(strings.NewReader("")), 0, nil
	}
	rel := filepath.FromSlash(v.Content)
	if !filepath.IsLocal(rel) {
		return nil, 0, fmt.Errorf("content reference %q of %s escapes %s", v.Content, v.Key, d.Root)
	}
	fp, err := os.Open(filepath.Join(d.Root, rel))
	if err != nil {
		return nil, 0, err
	}
	st, err := fp.Stat()
	if err != nil {
		fp.Close()
		return nil, 0, err
	}
	if st.IsDir() {
		fp.Close()
		return nil, 0, fmt.Errorf("content of %s is a directory", v.Key)
	}
	return fp, st.Size(), nil
}
