package analytics

import (
	"strings"

	"github.com/melvsalonga/affiliate-hub-sub002/internal/models"
)

// Segment is a per-audience slice of the range's traffic.
type Segment struct {
	Name           string  `json:"name"`
	Visitors       int64   `json:"visitors"`
	Conversions    int64   `json:"conversions"`
	ConversionRate float64 `json:"conversionRate"`
	Revenue        float64 `json:"revenue"`
}

// segmentPredicate decides whether a click belongs to a segment.
type segmentPredicate func(*models.ClickEvent) bool

// segmentDefs is the fixed segment catalog, in output order.
var segmentDefs = []struct {
	name string
	pred segmentPredicate
}{
	{"mobile", func(c *models.ClickEvent) bool { return c.Device == "mobile" || c.Device == "tablet" }},
	{"desktop", func(c *models.ClickEvent) bool { return c.Device == "desktop" }},
	{"search", referrerContains("google", "bing", "duckduckgo")},
	{"social", referrerContains("facebook", "instagram", "twitter", "t.co", "tiktok", "pinterest")},
	{"direct", func(c *models.ClickEvent) bool { return c.Referrer == "" }},
}

func referrerContains(domains ...string) segmentPredicate {
	return func(c *models.ClickEvent) bool {
		ref := strings.ToLower(c.Referrer)
		for _, d := range domains {
			if strings.Contains(ref, d) {
				return true
			}
		}
		return false
	}
}

// segments partitions clicks by the catalog predicates and joins each
// slice with its conversions via session and link. Segments with zero
// visitors are omitted.
func segments(clicks []*models.ClickEvent, conversions []*models.ConversionEvent) []Segment {
	// Conversions bind to a segment through the click they were
	// attributed to, falling back to link-level matching.
	byClickID := map[string]*models.ClickEvent{}
	for _, c := range clicks {
		byClickID[c.ID] = c
	}

	var out []Segment
	for _, def := range segmentDefs {
		sessions := map[string]bool{}
		memberLinks := map[string]bool{}
		for _, c := range clicks {
			if def.pred(c) {
				sessions[c.SessionID] = true
				memberLinks[c.LinkID] = true
			}
		}
		if len(sessions) == 0 {
			continue
		}

		var convCount int64
		var revenue float64
		for _, conv := range conversions {
			if conv.Status == models.ConversionRejected {
				continue
			}
			if click, ok := byClickID[conv.ClickID]; ok {
				if !def.pred(click) {
					continue
				}
			} else if !memberLinks[conv.LinkID] {
				continue
			}
			convCount++
			revenue += conv.OrderValue
		}

		seg := Segment{
			Name:        def.name,
			Visitors:    int64(len(sessions)),
			Conversions: convCount,
			Revenue:     revenue,
		}
		seg.ConversionRate = float64(convCount) / float64(seg.Visitors) * 100
		out = append(out, seg)
	}
	return out
}

// filterSegment narrows clicks to one segment and keeps only the
// conversions attributable to the remaining clicks. Unknown segment names
// are treated as referrer-domain substrings.
func filterSegment(clicks []*models.ClickEvent, conversions []*models.ConversionEvent, segment string) ([]*models.ClickEvent, []*models.ConversionEvent) {
	var pred segmentPredicate
	for _, def := range segmentDefs {
		if def.name == segment {
			pred = def.pred
			break
		}
	}
	if pred == nil {
		needle := strings.ToLower(segment)
		pred = func(c *models.ClickEvent) bool {
			return strings.Contains(strings.ToLower(c.Referrer), needle)
		}
	}

	var keptClicks []*models.ClickEvent
	keptIDs := map[string]bool{}
	keptLinks := map[string]bool{}
	for _, c := range clicks {
		if pred(c) {
			keptClicks = append(keptClicks, c)
			keptIDs[c.ID] = true
			keptLinks[c.LinkID] = true
		}
	}

	var keptConvs []*models.ConversionEvent
	for _, conv := range conversions {
		if conv.ClickID != "" {
			if keptIDs[conv.ClickID] {
				keptConvs = append(keptConvs, conv)
			}
			continue
		}
		if keptLinks[conv.LinkID] {
			keptConvs = append(keptConvs, conv)
		}
	}
	return keptClicks, keptConvs
}
