package ensemble

// NodeType distinguishes split nodes from leaves.
type NodeType int

const (
	// LeafNode holds an output value.
	LeafNode NodeType = iota
	// SplitNode routes samples with value <= Threshold to the left child.
	SplitNode
)

// Node is a single node of a regression tree.
type Node struct {
	NodeType   NodeType
	LeftChild  int
	RightChild int

	SplitFeature int
	SplitBin     int     // histogram bin of Threshold, for binned training data
	Threshold    float64 // raw-value threshold
	Gain         float64

	LeafValue float64
	Count     int
	SumHess   float64
}

// IsLeaf reports whether n is a leaf.
func (n *Node) IsLeaf() bool { return n.NodeType == LeafNode }

// Tree is a boosted regression tree stored as a flat node slice with the root
// at index 0.
type Tree struct {
	Nodes []Node
}

// Predict returns the leaf value reached by a raw feature row.
func (t *Tree) Predict(x []float64) float64 {
	idx := 0
	for {
		node := &t.Nodes[idx]
		if node.IsLeaf() {
			return node.LeafValue
		}
		if x[node.SplitFeature] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
	}
}

// predictBinned walks the tree using pre-binned training data.
func (t *Tree) predictBinned(bins [][]uint8, row int) float64 {
	idx := 0
	for {
		node := &t.Nodes[idx]
		if node.IsLeaf() {
			return node.LeafValue
		}
		if int(bins[node.SplitFeature][row]) <= node.SplitBin {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
	}
}

// NumLeaves counts the leaves of t.
func (t *Tree) NumLeaves() int {
	count := 0
	for i := range t.Nodes {
		if t.Nodes[i].IsLeaf() {
			count++
		}
	}
	return count
}

// Depth returns the length of the longest root-to-leaf path.
func (t *Tree) Depth() int {
	if len(t.Nodes) == 0 {
		return 0
	}
	var walk func(idx int) int
	walk = func(idx int) int {
		node := &t.Nodes[idx]
		if node.IsLeaf() {
			return 0
		}
		return 1 + max(walk(node.LeftChild), walk(node.RightChild))
	}
	return walk(0)
}
