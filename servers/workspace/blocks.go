package workspace

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Block is one structured note in the workspace. Tasks and connections are
// free-form labels; the server only stores and lists them.
type Block struct {
	ID          string
	Name        string
	Description string
	Tasks       []string
	Connections []string
	CreatedAt   time.Time
}

type blockView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	CreatedAt   string   `json:"created_at"`
	Tasks       []string `json:"tasks,omitempty"`
	Connections []string `json:"connections,omitempty"`
}

// blockStore holds the workspace's blocks in memory. It starts with a root
// block so fresh workspaces still have something to list.
type blockStore struct {
	mu     sync.Mutex
	blocks []Block
}

func newBlockStore() *blockStore {
	return &blockStore{
		blocks: []Block{
			{
				ID:          uuid.NewString(),
				Name:        "workspace",
				Description: "Root block for this workspace.",
				Tasks:       []string{"triage inbox"},
				CreatedAt:   time.Now().UTC(),
			},
		},
	}
}

// list returns the blocks whose names contain filter, case-insensitively.
// An empty filter matches everything.
func (b *blockStore) list(filter string, includeTasks, includeConnections bool) []blockView {
	b.mu.Lock()
	defer b.mu.Unlock()

	views := make([]blockView, 0, len(b.blocks))
	for _, block := range b.blocks {
		if filter != "" && !strings.Contains(strings.ToLower(block.Name), strings.ToLower(filter)) {
			continue
		}
		view := blockView{
			ID:          block.ID,
			Name:        block.Name,
			Description: block.Description,
			CreatedAt:   block.CreatedAt.Format(time.RFC3339),
		}
		if includeTasks {
			view.Tasks = block.Tasks
		}
		if includeConnections {
			view.Connections = block.Connections
		}
		views = append(views, view)
	}
	return views
}

// create adds a block. An empty id gets a generated one; an id that is
// already taken is an error so callers cannot silently overwrite a block.
func (b *blockStore) create(id, name, description string) (Block, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	for _, block := range b.blocks {
		if block.ID == id {
			return Block{}, fmt.Errorf("block already exists: %s", id)
		}
	}

	block := Block{
		ID:          id,
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	b.blocks = append(b.blocks, block)
	return block, nil
}
