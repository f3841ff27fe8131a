package workspace

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/MegaGrindStone/go-mcp-conform"
)

var toolList = conform.ToolsListResult{
	Tools: []conform.ToolDescriptor{
		{
			Name: "read_file",
			Description: `
Read the complete contents of a file inside the workspace. The path is
interpreted relative to the workspace root and the file must fit within
max_size. Only utf8 text is supported.
        `,
			InputSchema: readFileSchema,
		},
		{
			Name: "write_file",
			Description: `
Create a file or completely overwrite an existing one with new content.
The parent directory must already exist; use create_directory first when
it does not.
        `,
			InputSchema: writeFileSchema,
		},
		{
			Name: "create_directory",
			Description: `
Create a directory inside the workspace. With recursive set, missing
parent directories are created as well. Creating a directory that already
exists succeeds and reports created false.
        `,
			InputSchema: createDirectorySchema,
		},
		{
			Name: "delete",
			Description: `
Delete a file or directory inside the workspace. Directories with contents
require recursive set. The workspace root itself can never be deleted.
        `,
			InputSchema: deleteSchema,
		},
		{
			Name: "list_directory",
			Description: `
List the entries of a directory inside the workspace. max_depth controls
how many levels to descend, hidden entries are skipped unless
include_hidden is set, and filter narrows the listing to entry names
matching a glob pattern.
        `,
			InputSchema: listDirectorySchema,
		},
		{
			Name: "list_blocks",
			Description: `
List the blocks in this workspace, optionally narrowed to names containing
the filter text. Tasks and connections are included only when requested.
        `,
			InputSchema: listBlocksSchema,
		},
		{
			Name: "create_block",
			Description: `
Create a new block in this workspace. Requires a session holding the
blocks:write capability; sessions are read-only unless session/create
asked for it.
        `,
			InputSchema: createBlockSchema,
		},
	},
}

func (s *Server) callTool(params json.RawMessage) (any, *conform.RPCError) {
	var p conform.ToolsCallParams
	if rpcErr := unmarshalParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if p.Name == "" {
		return nil, rpcErrorf(conform.CodeInvalidParams, "tool name is required")
	}

	sess, rpcErr := s.sessionFor(p.SessionID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	s.logger.Debug("calling tool",
		slog.String("tool", p.Name),
		slog.String("session_id", sess.id))

	switch p.Name {
	case "read_file":
		return s.readFile(p.Arguments)
	case "write_file":
		return s.writeFile(p.Arguments)
	case "create_directory":
		return s.createDirectory(p.Arguments)
	case "delete":
		return s.deletePath(p.Arguments)
	case "list_directory":
		return s.listDirectory(p.Arguments)
	case "list_blocks":
		return s.listBlocks(p.Arguments)
	case "create_block":
		return s.createBlock(sess, p.Arguments)
	default:
		return nil, rpcErrorf(conform.CodeInvalidParams, "unknown tool: %s", p.Name)
	}
}

// resolvePath confines requested to the workspace root. Absolute paths and
// paths that climb out through .. are rejected before touching the
// filesystem.
func (s *Server) resolvePath(requested string) (string, *conform.RPCError) {
	if requested == "" {
		return "", rpcErrorf(conform.CodeInvalidParams, "path is required")
	}
	if filepath.IsAbs(requested) {
		return "", rpcErrorf(conform.CodeInvalidParams,
			"path must be relative to the workspace root: %s", requested)
	}

	joined := filepath.Join(s.root, filepath.FromSlash(requested))
	rel, err := filepath.Rel(s.root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", rpcErrorf(conform.CodeInvalidParams,
			"path escapes the workspace root: %s", requested)
	}
	return joined, nil
}

func (s *Server) readFile(args json.RawMessage) (any, *conform.RPCError) {
	var rfArgs ReadFileArgs
	if rpcErr := unmarshalArgs(args, &rfArgs); rpcErr != nil {
		return nil, rpcErr
	}
	if enc := rfArgs.Encoding; enc != "" && enc != "utf8" && enc != "utf-8" {
		return nil, rpcErrorf(conform.CodeInvalidParams, "unsupported encoding: %s", enc)
	}
	path, rpcErr := s.resolvePath(rfArgs.Path)
	if rpcErr != nil {
		return nil, rpcErr
	}

	maxSize := rfArgs.MaxSize
	if maxSize <= 0 {
		maxSize = defaultMaxReadSize
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, rpcErrorf(conform.CodeServerError, "failed to read file: %v", err)
	}
	if info.IsDir() {
		return nil, rpcErrorf(conform.CodeInvalidParams, "not a file: %s", rfArgs.Path)
	}
	if info.Size() > maxSize {
		return nil, rpcErrorf(conform.CodeServerError,
			"file exceeds max_size of %d bytes: %s", maxSize, rfArgs.Path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rpcErrorf(conform.CodeServerError, "failed to read file: %v", err)
	}
	return readFileResult{Content: string(data)}, nil
}

func (s *Server) writeFile(args json.RawMessage) (any, *conform.RPCError) {
	var wfArgs WriteFileArgs
	if rpcErr := unmarshalArgs(args, &wfArgs); rpcErr != nil {
		return nil, rpcErr
	}
	path, rpcErr := s.resolvePath(wfArgs.Path)
	if rpcErr != nil {
		return nil, rpcErr
	}

	if err := os.WriteFile(path, []byte(wfArgs.Content), 0o644); err != nil {
		return nil, rpcErrorf(conform.CodeServerError, "failed to write file: %v", err)
	}
	return writeFileResult{Path: wfArgs.Path, BytesWritten: len(wfArgs.Content)}, nil
}

func (s *Server) createDirectory(args json.RawMessage) (any, *conform.RPCError) {
	var cdArgs CreateDirectoryArgs
	if rpcErr := unmarshalArgs(args, &cdArgs); rpcErr != nil {
		return nil, rpcErr
	}
	path, rpcErr := s.resolvePath(cdArgs.Path)
	if rpcErr != nil {
		return nil, rpcErr
	}

	if cdArgs.Recursive {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, rpcErrorf(conform.CodeServerError, "failed to create directory: %v", err)
		}
		return createDirectoryResult{Path: cdArgs.Path, Created: true}, nil
	}

	if err := os.Mkdir(path, 0o755); err != nil {
		if os.IsExist(err) {
			return createDirectoryResult{Path: cdArgs.Path, Created: false}, nil
		}
		return nil, rpcErrorf(conform.CodeServerError, "failed to create directory: %v", err)
	}
	return createDirectoryResult{Path: cdArgs.Path, Created: true}, nil
}

func (s *Server) deletePath(args json.RawMessage) (any, *conform.RPCError) {
	var dArgs DeleteArgs
	if rpcErr := unmarshalArgs(args, &dArgs); rpcErr != nil {
		return nil, rpcErr
	}
	path, rpcErr := s.resolvePath(dArgs.Path)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if path == s.root {
		return nil, rpcErrorf(conform.CodeInvalidParams, "refusing to delete the workspace root")
	}

	if _, err := os.Stat(path); err != nil {
		return nil, rpcErrorf(conform.CodeServerError, "failed to delete: %v", err)
	}

	if dArgs.Recursive {
		if err := os.RemoveAll(path); err != nil {
			return nil, rpcErrorf(conform.CodeServerError, "failed to delete: %v", err)
		}
	} else if err := os.Remove(path); err != nil {
		return nil, rpcErrorf(conform.CodeServerError, "failed to delete: %v", err)
	}
	return deleteResult{Path: dArgs.Path, Deleted: true}, nil
}

func (s *Server) listDirectory(args json.RawMessage) (any, *conform.RPCError) {
	var ldArgs ListDirectoryArgs
	if rpcErr := unmarshalArgs(args, &ldArgs); rpcErr != nil {
		return nil, rpcErr
	}
	path, rpcErr := s.resolvePath(ldArgs.Path)
	if rpcErr != nil {
		return nil, rpcErr
	}

	maxDepth := ldArgs.MaxDepth
	if maxDepth == 0 {
		maxDepth = 1
	}
	if maxDepth < 1 {
		return nil, rpcErrorf(conform.CodeInvalidParams, "max_depth must be at least 1")
	}

	var nameFilter glob.Glob
	if ldArgs.Filter != "" {
		g, err := glob.Compile(ldArgs.Filter)
		if err != nil {
			return nil, rpcErrorf(conform.CodeInvalidParams,
				"invalid filter pattern %q: %v", ldArgs.Filter, err)
		}
		nameFilter = g
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, rpcErrorf(conform.CodeServerError, "failed to list directory: %v", err)
	}
	if !info.IsDir() {
		return nil, rpcErrorf(conform.CodeInvalidParams, "not a directory: %s", ldArgs.Path)
	}

	files := make([]FileEntry, 0)
	if err := s.collectEntries(path, 1, maxDepth, ldArgs.IncludeHidden, nameFilter, &files); err != nil {
		return nil, rpcErrorf(conform.CodeServerError, "failed to list directory: %v", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	return listDirectoryResult{Path: ldArgs.Path, Files: files, Count: len(files)}, nil
}

// collectEntries walks dir up to maxDepth levels deep. The filter narrows
// which entries are reported but never which directories are descended
// into, so *.txt still finds files in matching subtrees.
func (s *Server) collectEntries(dir string, depth, maxDepth int, includeHidden bool, nameFilter glob.Glob, out *[]FileEntry) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if !includeHidden && strings.HasPrefix(name, ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		full := filepath.Join(dir, name)
		rel, err := filepath.Rel(s.root, full)
		if err != nil {
			return err
		}

		if nameFilter == nil || nameFilter.Match(name) {
			*out = append(*out, FileEntry{
				Name:        name,
				Path:        filepath.ToSlash(rel),
				Type:        entryType(entry),
				Size:        info.Size(),
				Modified:    info.ModTime().UTC().Format(time.RFC3339),
				Permissions: info.Mode().Perm().String(),
			})
		}
		if entry.IsDir() && depth < maxDepth {
			if err := s.collectEntries(full, depth+1, maxDepth, includeHidden, nameFilter, out); err != nil {
				return err
			}
		}
	}
	return nil
}

func entryType(entry os.DirEntry) string {
	if entry.IsDir() {
		return "directory"
	}
	return "file"
}

func (s *Server) listBlocks(args json.RawMessage) (any, *conform.RPCError) {
	var lbArgs ListBlocksArgs
	if rpcErr := unmarshalArgs(args, &lbArgs); rpcErr != nil {
		return nil, rpcErr
	}

	views := s.blocks.list(lbArgs.Filter, lbArgs.IncludeTasks, lbArgs.IncludeConnections)
	return listBlocksResult{Blocks: views, Count: len(views)}, nil
}

// capabilityBlocksWrite guards the block mutating tools. Sessions hold it
// only when session/create asked for it, so anonymous and default sessions
// are read-only.
const capabilityBlocksWrite = "blocks:write"

func (s *Server) createBlock(sess *session, args json.RawMessage) (any, *conform.RPCError) {
	if !sess.allows(capabilityBlocksWrite) {
		return nil, rpcErrorf(conform.CodeServerError,
			"Permission denied: create_block requires the %s capability", capabilityBlocksWrite)
	}

	var cbArgs CreateBlockArgs
	if rpcErr := unmarshalArgs(args, &cbArgs); rpcErr != nil {
		return nil, rpcErr
	}
	if cbArgs.Name == "" {
		return nil, rpcErrorf(conform.CodeInvalidParams, "name is required")
	}
	if cbArgs.Description == "" {
		return nil, rpcErrorf(conform.CodeInvalidParams, "description is required")
	}

	block, err := s.blocks.create(cbArgs.BlockID, cbArgs.Name, cbArgs.Description)
	if err != nil {
		return nil, rpcErrorf(conform.CodeServerError, "failed to create block: %v", err)
	}
	return createBlockResult{BlockID: block.ID, Name: block.Name}, nil
}

func unmarshalArgs(args json.RawMessage, dst any) *conform.RPCError {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, dst); err != nil {
		return rpcErrorf(conform.CodeInvalidParams, "invalid arguments: %v", err)
	}
	return nil
}
