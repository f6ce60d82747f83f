package httpapi

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileNode is one entry in a project file tree.
type FileNode struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Type     string     `json:"type"` // "file" or "folder"
	Size     string     `json:"size,omitempty"`
	Children []FileNode `json:"children,omitempty"`
}

// BuildFileTree walks the project directory and returns its structure.
// Dotfiles are skipped; unreadable directories yield empty children
// rather than an error so one bad permission does not hide the tree.
func BuildFileTree(root, name string) (*FileNode, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("reading project root: %w", err)
	}
	node := buildNode(root, "", name, info)
	return &node, nil
}

func buildNode(root, rel, name string, info os.FileInfo) FileNode {
	node := FileNode{Name: name, Path: rel}

	if !info.IsDir() {
		node.Type = "file"
		node.Size = fmt.Sprintf("%.2f KB", float64(info.Size())/1024)
		return node
	}

	node.Type = "folder"
	node.Children = []FileNode{}

	// os.ReadDir returns entries sorted by name.
	entries, err := os.ReadDir(filepath.Join(root, rel))
	if err != nil {
		return node
	}
	for _, entry := range entries {
		if entry.Name()[0] == '.' {
			continue
		}
		childInfo, err := entry.Info()
		if err != nil {
			continue
		}
		childRel := entry.Name()
		if rel != "" {
			childRel = rel + "/" + entry.Name()
		}
		node.Children = append(node.Children, buildNode(root, childRel, entry.Name(), childInfo))
	}
	return node
}
