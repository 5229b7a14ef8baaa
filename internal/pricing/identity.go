package pricing

import (
	"strconv"

	"itemprice/internal/models"
)

const keySep = "\x1f"

// Group is a set of pending reports resolved to the same catalog item.
// Anchor carries the identity fields back-filled from Members.
type Group struct {
	Anchor  models.PriceReport
	Members []models.PriceReport
}

// StrictKey identifies near-identical submissions: name, image id and item id.
func StrictKey(r models.PriceReport) string {
	return r.Name + keySep + r.ImageID + keySep + itemIDString(r.ItemID)
}

// LooseKey ignores the item id so partial submissions can be matched.
func LooseKey(r models.PriceReport) string {
	return r.Name + keySep + r.ImageID
}

func itemIDString(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}

// looseHome returns the index of the item-id anchor an id-less report merges
// into, or -1. An anchor with the same name and image wins; otherwise the first
// same-name anchor without an image takes it.
func looseHome(anchors []models.PriceReport, x models.PriceReport) int {
	if x.ItemID != nil || x.ImageID == "" {
		return -1
	}
	for i, a := range anchors {
		if LooseKey(a) == LooseKey(x) {
			return i
		}
	}
	for i, a := range anchors {
		if a.Name == x.Name && a.ImageID == "" {
			return i
		}
	}
	return -1
}

// BuildGroups partitions pending reports into merge groups. Every report lands
// in exactly one group. Reports carrying an item id group by strict key; an
// id-less report joins at most one of those groups and otherwise groups with
// its own strict-key duplicates.
func BuildGroups(reports []models.PriceReport) []Group {
	index := make(map[string]int)
	var anchors []models.PriceReport
	var members [][]models.PriceReport

	anchorFor := func(r models.PriceReport) int {
		key := StrictKey(r)
		i, ok := index[key]
		if !ok {
			i = len(anchors)
			index[key] = i
			anchors = append(anchors, r)
			members = append(members, nil)
		}
		return i
	}

	for _, r := range reports {
		if r.ItemID != nil {
			anchorFor(r)
		}
	}
	withID := anchors[:len(anchors):len(anchors)]

	for _, x := range reports {
		i := looseHome(withID, x)
		if i < 0 {
			i = anchorFor(x)
		}
		members[i] = append(members[i], x)
	}

	groups := make([]Group, 0, len(anchors))
	for i, a := range anchors {
		groups = append(groups, Group{Anchor: Merge(a, members[i]), Members: members[i]})
	}
	return groups
}

// Merge back-fills empty identity fields of anchor from members, first
// non-empty value wins in member order. Neither argument is modified.
func Merge(anchor models.PriceReport, members []models.PriceReport) models.PriceReport {
	merged := anchor
	if anchor.ItemID != nil {
		id := *anchor.ItemID
		merged.ItemID = &id
	}
	for _, m := range members {
		merged = backfill(merged, m)
	}
	return merged
}

func backfill(acc, m models.PriceReport) models.PriceReport {
	acc.Name = firstNonEmpty(acc.Name, m.Name)
	acc.ImageID = firstNonEmpty(acc.ImageID, m.ImageID)
	acc.Image = firstNonEmpty(acc.Image, m.Image)
	acc.Owner = firstNonEmpty(acc.Owner, m.Owner)
	acc.SourceType = firstNonEmpty(acc.SourceType, m.SourceType)
	acc.Language = firstNonEmpty(acc.Language, m.Language)
	if acc.ItemID == nil && m.ItemID != nil {
		id := *m.ItemID
		acc.ItemID = &id
	}
	return acc
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// Resolvable reports whether a catalog lookup can be attempted for r.
func Resolvable(r models.PriceReport) bool {
	return r.ItemID != nil || r.Name != "" || r.ImageID != ""
}
