package workspace

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jaewoo-rain/webide/pkg/errs"
	"github.com/jaewoo-rain/webide/pkg/runtime"
)

// Policy decides what happens to files already in the workspace before a
// tree is materialized.
type Policy int

const (
	// Preserve merges the tree over whatever is already there.
	Preserve Policy = iota
	// Purge deletes the workspace contents first.
	Purge
)

// Materializer writes client trees into instances through the runtime's tar
// upload, which round-trips arbitrary content without shell escaping.
type Materializer struct {
	Log     *logrus.Entry
	Runtime runtime.ContainerRuntime
}

// Materialize writes tree into basePath inside instance id and returns the
// absolute path of the entry node. With entryID empty no entry is resolved
// and the returned path is empty.
func (m *Materializer) Materialize(ctx context.Context, id string, tree *Tree, entryID, basePath string, policy Policy) (string, error) {
	if err := tree.Validate(); err != nil {
		return "", err
	}

	archive, entryRel, err := tree.Archive(entryID)
	if err != nil {
		return "", err
	}

	if err := m.prepareBase(ctx, id, basePath, policy); err != nil {
		return "", err
	}

	if err := m.Runtime.Upload(ctx, id, basePath, archive); err != nil {
		return "", err
	}

	if entryRel == "" {
		return "", nil
	}
	return path.Join(basePath, entryRel), nil
}

func (m *Materializer) prepareBase(ctx context.Context, id, basePath string, policy Policy) error {
	script := fmt.Sprintf("mkdir -p '%s'", basePath)
	if policy == Purge {
		script = fmt.Sprintf("mkdir -p '%s' && find '%s' -mindepth 1 -delete", basePath, basePath)
	}
	result, err := m.Runtime.Exec(ctx, id, []string{"bash", "-lc", script})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return errs.New(errs.KindInternal, "preparing workspace failed: %s", result.Stderr)
	}
	return nil
}

// ReadTree reads the workspace back out of an instance and rebuilds a tree
// plus file map in the wire shape. Node ids are freshly minted; the root is
// a synthetic folder with an empty name.
func (m *Materializer) ReadTree(ctx context.Context, id, basePath string) (*Tree, error) {
	listing, err := m.Runtime.Exec(ctx, id, []string{"bash", "-lc",
		fmt.Sprintf("cd '%s' 2>/dev/null && { find . -mindepth 1 -type d -printf 'd %%P\\n'; find . -mindepth 1 -type f -printf 'f %%P\\n'; }", basePath),
	})
	if err != nil {
		return nil, err
	}

	root := &Node{ID: "root", Type: NodeFolder}
	tree := &Tree{
		Root:    root,
		FileMap: map[string]Entry{"root": {Name: "", Type: NodeFolder}},
	}
	folders := map[string]*Node{"": root}

	lines := strings.Split(strings.TrimRight(string(listing.Stdout), "\n"), "\n")
	sort.Strings(lines) // parents sort before children
	for _, line := range lines {
		if len(line) < 3 {
			continue
		}
		kind, rel := line[0], line[2:]
		parent := folders[parentOf(rel)]
		if parent == nil {
			continue
		}
		node := &Node{ID: uuid.NewString()}
		entry := Entry{Name: path.Base(rel)}
		switch kind {
		case 'd':
			node.Type = NodeFolder
			entry.Type = NodeFolder
			folders[rel] = node
		case 'f':
			node.Type = NodeFile
			entry.Type = NodeFile
			content, err := m.readFile(ctx, id, path.Join(basePath, rel))
			if err != nil {
				return nil, err
			}
			entry.Content = content
		default:
			continue
		}
		parent.Children = append(parent.Children, node)
		tree.FileMap[node.ID] = entry
	}

	return tree, nil
}

func (m *Materializer) readFile(ctx context.Context, id, fullPath string) (string, error) {
	result, err := m.Runtime.Exec(ctx, id, []string{"cat", fullPath})
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", errs.New(errs.KindInternal, "reading %s: %s", fullPath, result.Stderr)
	}
	return string(result.Stdout), nil
}

// Rename moves the file or folder at oldPath (relative to basePath or
// absolute inside it) to newName in the same directory, and returns the new
// absolute path.
func (m *Materializer) Rename(ctx context.Context, id, basePath, oldPath, newName string) (string, error) {
	full, err := resolveInside(basePath, oldPath)
	if err != nil {
		return "", err
	}
	if newName == "" || strings.ContainsAny(newName, "/\x00") {
		return "", errs.New(errs.KindBadRequest, "invalid new name %q", newName)
	}
	newFull := path.Join(path.Dir(full), newName)

	result, err := m.Runtime.Exec(ctx, id, []string{"bash", "-lc",
		fmt.Sprintf("test -e '%s' && mv '%s' '%s'", full, full, newFull),
	})
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", errs.New(errs.KindNotFound, "no such path %q", oldPath)
	}
	return newFull, nil
}

// Delete removes the file or folder at target inside the workspace.
func (m *Materializer) Delete(ctx context.Context, id, basePath, target string) error {
	full, err := resolveInside(basePath, target)
	if err != nil {
		return err
	}
	if full == path.Clean(basePath) {
		return errs.New(errs.KindBadRequest, "refusing to delete the workspace root")
	}

	result, err := m.Runtime.Exec(ctx, id, []string{"bash", "-lc",
		fmt.Sprintf("test -e '%s' && rm -rf '%s'", full, full),
	})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return errs.New(errs.KindNotFound, "no such path %q", target)
	}
	return nil
}

// resolveInside anchors p under base and rejects escapes.
func resolveInside(base, p string) (string, error) {
	full := p
	if !path.IsAbs(full) {
		full = path.Join(base, full)
	}
	full = path.Clean(full)
	base = path.Clean(base)
	if full != base && !strings.HasPrefix(full, base+"/") {
		return "", errs.New(errs.KindBadRequest, "path %q is outside the workspace", p)
	}
	if strings.Contains(full, "'") {
		return "", errs.New(errs.KindBadRequest, "path %q contains unsupported characters", p)
	}
	return full, nil
}

func parentOf(rel string) string {
	dir := path.Dir(rel)
	if dir == "." {
		return ""
	}
	return dir
}
