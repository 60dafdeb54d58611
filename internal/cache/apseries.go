package cache

import (
	"github.com/nvandessel/pvnav/internal/trace"
)

// SiteCount is the flattened count at one site. Scalar sites have exactly
// one count; multi-element sites (one count per node) have Multi set.
type SiteCount struct {
	Site   string `json:"site"`
	Counts []int  `json:"counts"`
	Multi  bool   `json:"multi"`
}

// APSeries is the on-disk form of trace.APCounts, ordered by site name.
type APSeries []SiteCount

// FlattenAP flattens counts into a series. A soma-only trial flattens to a
// single "soma" entry.
func FlattenAP(ap trace.APCounts) APSeries {
	out := make(APSeries, 0, ap.Len())
	for _, site := range ap.Sites() {
		if c, ok := ap.Get(site); ok {
			out = append(out, SiteCount{Site: site, Counts: []int{c.N}})
			continue
		}
		each, _ := ap.Each(site)
		counts := make([]int, len(each))
		for i, c := range each {
			counts[i] = c.N
		}
		out = append(out, SiteCount{Site: site, Counts: counts, Multi: true})
	}
	return out
}

// ToAP rebuilds counts from a series: single entries become scalar counts
// and multi entries become one count per element.
func ToAP(s APSeries) trace.APCounts {
	ap := trace.NewAPCounts()
	for _, sc := range s {
		if !sc.Multi && len(sc.Counts) == 1 {
			ap.Scalar[sc.Site] = trace.APCount{N: sc.Counts[0]}
			continue
		}
		each := make([]trace.APCount, len(sc.Counts))
		for i, n := range sc.Counts {
			each[i] = trace.APCount{N: n}
		}
		ap.Vector[sc.Site] = each
	}
	return ap
}
