// Package workspace translates client-supplied file trees into the fixed
// workspace directory inside an instance, and back.
package workspace

import (
	"archive/tar"
	"bytes"
	"path"
	"strings"
	"time"

	"github.com/jaewoo-rain/webide/pkg/errs"
)

// Node is one vertex of the client's file tree. Only structure lives here;
// names and contents are looked up in the file map by id.
type Node struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Children []*Node `json:"children,omitempty"`
}

// Entry is the file-map value for a node id.
type Entry struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

const (
	// NodeFile and NodeFolder are the two node kinds on the wire.
	NodeFile   = "file"
	NodeFolder = "folder"
)

// Tree couples the structural tree with its file map.
type Tree struct {
	Root    *Node
	FileMap map[string]Entry
}

// Validate checks the invariants the materializer relies on: node ids are
// unique and present in the file map, folder names are non-empty except for
// the root, and kinds are consistent between tree and map.
func (t *Tree) Validate() error {
	if t.Root == nil {
		return errs.New(errs.KindBadRequest, "tree has no root")
	}
	seen := make(map[string]bool)
	return t.validateNode(t.Root, true, seen)
}

func (t *Tree) validateNode(n *Node, isRoot bool, seen map[string]bool) error {
	if seen[n.ID] {
		return errs.New(errs.KindBadRequest, "duplicate node id %q", n.ID)
	}
	seen[n.ID] = true

	entry, ok := t.FileMap[n.ID]
	if !ok {
		return errs.New(errs.KindBadRequest, "node %q missing from fileMap", n.ID)
	}

	switch n.Type {
	case NodeFolder:
		if entry.Name == "" && !isRoot {
			return errs.New(errs.KindBadRequest, "folder %q has empty name", n.ID)
		}
		if strings.ContainsAny(entry.Name, "/\x00") {
			return errs.New(errs.KindBadRequest, "folder name %q contains path separators", entry.Name)
		}
		for _, child := range n.Children {
			if err := t.validateNode(child, false, seen); err != nil {
				return err
			}
		}
	case NodeFile:
		if entry.Name == "" {
			return errs.New(errs.KindBadRequest, "file %q has empty name", n.ID)
		}
		if strings.ContainsAny(entry.Name, "/\x00") {
			return errs.New(errs.KindBadRequest, "file name %q contains path separators", entry.Name)
		}
	default:
		return errs.New(errs.KindBadRequest, "node %q has unknown type %q", n.ID, n.Type)
	}
	return nil
}

// Archive serializes the tree into a tar stream of paths relative to the
// workspace base, and resolves the entry node to its relative path.
// The walk is depth-first pre-order; a folder with an empty name (the
// synthetic root) contributes nothing to the path.
func (t *Tree) Archive(entryID string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	now := time.Now()

	entryPath := ""
	var walk func(n *Node, dir string) error
	walk = func(n *Node, dir string) error {
		entry := t.FileMap[n.ID]
		switch n.Type {
		case NodeFolder:
			sub := dir
			if entry.Name != "" {
				sub = path.Join(dir, entry.Name)
				hdr := &tar.Header{
					Name:     sub + "/",
					Typeflag: tar.TypeDir,
					Mode:     0o755,
					ModTime:  now,
				}
				if err := tw.WriteHeader(hdr); err != nil {
					return errs.WrapError(err)
				}
			}
			for _, child := range n.Children {
				if err := walk(child, sub); err != nil {
					return err
				}
			}
		case NodeFile:
			full := path.Join(dir, entry.Name)
			hdr := &tar.Header{
				Name:     full,
				Typeflag: tar.TypeReg,
				Mode:     0o644,
				Size:     int64(len(entry.Content)),
				ModTime:  now,
			}
			if err := tw.WriteHeader(hdr); err != nil {
				return errs.WrapError(err)
			}
			if _, err := tw.Write([]byte(entry.Content)); err != nil {
				return errs.WrapError(err)
			}
			if n.ID == entryID {
				entryPath = full
			}
		}
		return nil
	}

	if err := walk(t.Root, ""); err != nil {
		return nil, "", err
	}
	if err := tw.Close(); err != nil {
		return nil, "", errs.WrapError(err)
	}
	if entryID != "" && entryPath == "" {
		return nil, "", errs.New(errs.KindNoEntry, "entry node %q does not resolve to a file", entryID)
	}
	return &buf, entryPath, nil
}
