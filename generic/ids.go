package generic

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// IDGenerator issues primary keys and human-facing reference codes.
type IDGenerator interface {
	NewID() string
	NewReference(prefix string) string
}

// SnowflakeIDs issues time-ordered snowflake ids and uuid-based references.
type SnowflakeIDs struct {
	node *snowflake.Node
}

// NewSnowflakeIDs creates a generator for the given node (0-1023).
func NewSnowflakeIDs(node int64) (*SnowflakeIDs, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("init snowflake node %d: %w", node, err)
	}
	return &SnowflakeIDs{node: n}, nil
}

func (s *SnowflakeIDs) NewID() string { return s.node.Generate().String() }

// NewReference returns PREFIX-XXXXXXXXXXXX using the first uuid groups.
func (s *SnowflakeIDs) NewReference(prefix string) string {
	return reference(prefix, uuid.New())
}

func reference(prefix string, id uuid.UUID) string {
	raw := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
	return prefix + "-" + raw[:12]
}

// SequentialIDs is a deterministic generator for tests and dry runs.
type SequentialIDs struct {
	Prefix string
	n      atomic.Int64
}

func (s *SequentialIDs) NewID() string {
	return fmt.Sprintf("%s%d", s.Prefix, s.n.Add(1))
}

func (s *SequentialIDs) NewReference(prefix string) string {
	return fmt.Sprintf("%s-%06d", prefix, s.n.Add(1))
}
