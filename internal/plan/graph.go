package plan

import (
	"time"

	"github.com/bpt-pm/bpt"
	"github.com/bpt-pm/bpt/internal/toolchain"
)

// NodeIndex is a node's position within Graph.Nodes; it's how edges are
// represented instead of pointers.
type NodeIndex int

// NodeKind discriminates which of the four payload fields on Node is
// populated.
type NodeKind int

const (
	NodeCompile NodeKind = iota
	NodeArchive
	NodeLink
	NodeTest
)

func (k NodeKind) String() string {
	switch k {
	case NodeCompile:
		return "compile"
	case NodeArchive:
		return "archive"
	case NodeLink:
		return "link"
	case NodeTest:
		return "test"
	default:
		return "unknown"
	}
}

// LinkKind distinguishes a link node built from an application source
// from one built for a test source.
type LinkKind int

const (
	LinkApp LinkKind = iota
	LinkTest
)

// CompileNode is a (source file, toolchain, library, environment)
// producing one object file at a deterministic path.
type CompileNode struct {
	Package bpt.PkgID
	Library bpt.Name
	Source  string
	Output  string
	Lang    toolchain.Language

	IncludePaths         []string
	ExternalIncludePaths []string
	Defines              []string
}

// ArchiveNode groups a library's non-test compile nodes into a static
// archive.
type ArchiveNode struct {
	Package  bpt.PkgID
	Library  bpt.Name
	Output   string
	Compiles []NodeIndex
}

// LinkNode is one executable (application or test), depending on its
// owning library's archive (if any) plus the archives of every
// transitively used library.
type LinkNode struct {
	Package      bpt.PkgID
	Library      bpt.Name
	Kind         LinkKind
	Source       string
	Output       string
	OwnCompile   NodeIndex // the app/test main's own compile node
	OwnArchive   NodeIndex // -1 if the library has no lib sources
	UsedArchives []NodeIndex
}

// TestNode wraps a link node: on success of the executable it's a pass,
// else a structured test failure is recorded by the scheduler.
type TestNode struct {
	Link    NodeIndex
	Timeout time.Duration
}

const NoIndex NodeIndex = -1

// Node is one arena slot; exactly one of Compile/Archive/Link/Test is
// non-nil, selected by Kind.
type Node struct {
	Kind    NodeKind
	Compile *CompileNode
	Archive *ArchiveNode
	Link    *LinkNode
	Test    *TestNode
}

// Graph is the whole build plan: a flat node arena. Edges run through
// NodeIndex fields on the node payloads (ArchiveNode.Compiles,
// LinkNode.OwnArchive/UsedArchives, TestNode.Link) rather than a
// separate edge list.
type Graph struct {
	Nodes []Node
}

func (g *Graph) add(n Node) NodeIndex {
	g.Nodes = append(g.Nodes, n)
	return NodeIndex(len(g.Nodes) - 1)
}

// CompileOutputs returns the object file outputs of every compile node
// feeding archive, in the order they were added (lexicographic by
// source path, per §4.F's determinism rule).
func (g *Graph) CompileOutputs(archive NodeIndex) []string {
	a := g.Nodes[archive].Archive
	out := make([]string, len(a.Compiles))
	for i, ci := range a.Compiles {
		out[i] = g.Nodes[ci].Compile.Output
	}
	return out
}
