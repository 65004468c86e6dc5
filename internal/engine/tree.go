package engine

// Feature type labels as they appear in diagnostics and exports.
const (
	FeatureColor = "color"
	FeatureDepth = "depth"
)

// Feature is one candidate split function: the difference between the mean
// channel values of two offset regions around the sampled pixel.
type Feature struct {
	Type     string `json:"type"`
	Channel  int    `json:"channel"`
	OffsetX1 int    `json:"offsetX1"`
	OffsetY1 int    `json:"offsetY1"`
	RegionW1 int    `json:"regionW1"`
	RegionH1 int    `json:"regionH1"`
	OffsetX2 int    `json:"offsetX2"`
	OffsetY2 int    `json:"offsetY2"`
	RegionW2 int    `json:"regionW2"`
	RegionH2 int    `json:"regionH2"`
}

// Node is one tree node. Split nodes carry a feature and threshold; leaves
// carry the class histogram of the samples that reached them.
type Node struct {
	Feature   *Feature `json:"feature,omitempty"`
	Threshold float32  `json:"threshold,omitempty"`
	Left      *Node    `json:"left,omitempty"`
	Right     *Node    `json:"right,omitempty"`
	Histogram []int    `json:"histogram,omitempty"`
	Samples   int      `json:"samples"`
}

// Tree is one trained decision tree.
type Tree struct {
	Root *Node `json:"root"`
}

// CountFeatures tallies split nodes per feature type.
func (t *Tree) CountFeatures() map[string]int {
	counts := make(map[string]int)
	countFeatures(t.Root, counts)
	return counts
}

func countFeatures(n *Node, counts map[string]int) {
	if n == nil || n.Feature == nil {
		return
	}
	counts[n.Feature.Type]++
	countFeatures(n.Left, counts)
	countFeatures(n.Right, counts)
}

// Depth returns the number of levels in the tree.
func (t *Tree) Depth() int {
	return nodeDepth(t.Root)
}

func nodeDepth(n *Node) int {
	if n == nil {
		return 0
	}
	left, right := nodeDepth(n.Left), nodeDepth(n.Right)
	if right > left {
		left = right
	}
	return left + 1
}
