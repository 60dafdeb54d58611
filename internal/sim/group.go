package sim

import (
	"fmt"
	"strings"
)

// Group names an ordered set of sections of a cell.
type Group string

const (
	Soma    Group = "soma"    // somatic compartments
	Axon    Group = "axon"    // hillock and axon initial segment
	AIS     Group = "ais"     // axon initial segment only
	Nodes   Group = "nodes"   // nodes of Ranvier
	Myelin  Group = "myelin"  // internodes
	Somatic Group = "somatic" // everything somatic
	Axonal  Group = "axonal"  // axon, internodes and nodes in path order
	All     Group = "all"     // every section in path order
)

// Groups lists every known group.
var Groups = []Group{Soma, Axon, AIS, Nodes, Myelin, Somatic, Axonal, All}

var groupAliases = map[string]Group{
	"node":  Nodes,
	"nodes": Nodes,
}

// ParseGroup resolves a group name. Matching is case-insensitive and accepts
// "node" as an alias of Nodes.
func ParseGroup(s string) (Group, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if g, ok := groupAliases[name]; ok {
		return g, nil
	}
	for _, g := range Groups {
		if string(g) == name {
			return g, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownGroup, s)
}

// String implements fmt.Stringer.
func (g Group) String() string {
	return string(g)
}
