package workspace

// ReadFileArgs is an argument struct for the read_file tool.
type ReadFileArgs struct {
	Path     string `json:"path"`
	Encoding string `json:"encoding,omitempty"`
	MaxSize  int64  `json:"max_size,omitempty"`
}

// WriteFileArgs is an argument struct for the write_file tool.
type WriteFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// CreateDirectoryArgs is an argument struct for the create_directory tool.
type CreateDirectoryArgs struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive,omitempty"`
}

// DeleteArgs is an argument struct for the delete tool.
type DeleteArgs struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive,omitempty"`
}

// ListDirectoryArgs is an argument struct for the list_directory tool.
type ListDirectoryArgs struct {
	Path          string `json:"path"`
	MaxDepth      int    `json:"max_depth,omitempty"`
	IncludeHidden bool   `json:"include_hidden,omitempty"`
	Filter        string `json:"filter,omitempty"`
}

// ListBlocksArgs is an argument struct for the list_blocks tool.
type ListBlocksArgs struct {
	Filter             string `json:"filter,omitempty"`
	IncludeTasks       bool   `json:"include_tasks,omitempty"`
	IncludeConnections bool   `json:"include_connections,omitempty"`
}

// CreateBlockArgs is an argument struct for the create_block tool.
type CreateBlockArgs struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	BlockID     string `json:"block_id,omitempty"`
}

// FileEntry describes one directory entry in a list_directory result.
type FileEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Type        string `json:"type"` // "file" or "directory"
	Size        int64  `json:"size"`
	Modified    string `json:"modified"`
	Permissions string `json:"permissions"`
}

type readFileResult struct {
	Content string `json:"content"`
}

type writeFileResult struct {
	Path         string `json:"path"`
	BytesWritten int    `json:"bytes_written"`
}

type createDirectoryResult struct {
	Path    string `json:"path"`
	Created bool   `json:"created"`
}

type deleteResult struct {
	Path    string `json:"path"`
	Deleted bool   `json:"deleted"`
}

type listDirectoryResult struct {
	Path  string      `json:"path"`
	Files []FileEntry `json:"files"`
	Count int         `json:"count"`
}

type listBlocksResult struct {
	Blocks []blockView `json:"blocks"`
	Count  int         `json:"count"`
}

type createBlockResult struct {
	BlockID string `json:"block_id"`
	Name    string `json:"name"`
}

type promptDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type promptsListResult struct {
	Prompts []promptDescriptor `json:"prompts"`
}

type resourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type resourcesListResult struct {
	Resources []resourceDescriptor `json:"resources"`
}

var readFileSchema = []byte(`
  {
    "type": "object",
    "properties": {
      "path": {
        "type": "string",
        "description": "Path to the file, relative to the workspace root"
      },
      "encoding": {
        "type": "string",
        "description": "Text encoding of the file, only utf8 is supported",
        "default": "utf8"
      },
      "max_size": {
        "type": "integer",
        "description": "Largest file size in bytes the tool will read"
      }
    },
    "required": ["path"]
  }
`)

var writeFileSchema = []byte(`
  {
    "type": "object",
    "properties": {
      "path": {
        "type": "string",
        "description": "Path to the file, relative to the workspace root"
      },
      "content": {
        "type": "string",
        "description": "Full content to write, replacing any existing file"
      }
    },
    "required": ["path", "content"]
  }
`)

var createDirectorySchema = []byte(`
  {
    "type": "object",
    "properties": {
      "path": {
        "type": "string",
        "description": "Path of the directory to create, relative to the workspace root"
      },
      "recursive": {
        "type": "boolean",
        "description": "Create missing parent directories as needed",
        "default": false
      }
    },
    "required": ["path"]
  }
`)

var deleteSchema = []byte(`
  {
    "type": "object",
    "properties": {
      "path": {
        "type": "string",
        "description": "Path of the file or directory to delete, relative to the workspace root"
      },
      "recursive": {
        "type": "boolean",
        "description": "Delete directories together with their contents",
        "default": false
      }
    },
    "required": ["path"]
  }
`)

var listDirectorySchema = []byte(`
  {
    "type": "object",
    "properties": {
      "path": {
        "type": "string",
        "description": "Path of the directory to list, relative to the workspace root"
      },
      "max_depth": {
        "type": "integer",
        "description": "How many directory levels to descend into",
        "default": 1
      },
      "include_hidden": {
        "type": "boolean",
        "description": "Include entries whose names start with a dot",
        "default": false
      },
      "filter": {
        "type": "string",
        "description": "Glob pattern matched against entry names, for example *.txt"
      }
    },
    "required": ["path"]
  }
`)

var listBlocksSchema = []byte(`
  {
    "type": "object",
    "properties": {
      "filter": {
        "type": "string",
        "description": "Only return blocks whose name contains this text"
      },
      "include_tasks": {
        "type": "boolean",
        "description": "Include each block's tasks in the result",
        "default": false
      },
      "include_connections": {
        "type": "boolean",
        "description": "Include each block's connections in the result",
        "default": false
      }
    }
  }
`)

var createBlockSchema = []byte(`
  {
    "type": "object",
    "properties": {
      "name": {
        "type": "string",
        "description": "Display name of the new block"
      },
      "description": {
        "type": "string",
        "description": "What the block is for"
      },
      "block_id": {
        "type": "string",
        "description": "Identifier to assign, a fresh one is generated when omitted"
      }
    },
    "required": ["name", "description"]
  }
`)
