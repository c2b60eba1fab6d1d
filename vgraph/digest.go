// SPDX-License-Identifier: BSD-2-Clause

package vgraph

import (
	"encoding/hex"
	"fmt"
	"io"
	"sort"

	"lukechampine.com/blake3"
)

// Digest computes the content-addressable identity of an element from
// everything the history engine can see of it. Incremental runs compare
// digests to find elements whose history changed since the last run.
func Digest(e *Element) string {
	h := blake3.New(32, nil)
	fmt.Fprintf(h, "element %s %s\n", e.ID, e.Kind)
	for _, name := range e.BranchNames() {
		b := e.Branches[name]
		fmt.Fprintf(h, "branch %s %s", b.Name, b.FullName)
		if b.Origin != nil {
			fmt.Fprintf(h, " %s", b.Origin)
		}
		io.WriteString(h, "\n")
		for _, v := range b.Versions {
			fmt.Fprintf(h, "version %d %s %s %d %q %q %q\n",
				v.Key.Number, v.Author, v.Login, v.Time.Unix(), v.Comment, v.Content, v.Target)
			labels := append([]string(nil), v.Labels...)
			sort.Strings(labels)
			for _, l := range labels {
				fmt.Fprintf(h, "label %s\n", l)
			}
			for _, k := range v.MergedFrom {
				fmt.Fprintf(h, "from %s\n", k)
			}
			for _, k := range v.MergedTo {
				fmt.Fprintf(h, "to %s\n", k)
			}
			names := make([]string, 0, len(v.Children))
			for n := range v.Children {
				names = append(names, n)
			}
			sort.Strings(names)
			for _, n := range names {
				fmt.Fprintf(h, "child %q %s\n", n, v.Children[n])
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
