package policy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Category is the course taxonomy used to price points and scope coupons.
type Category string

const (
	CategoryCertificate Category = "certificate"
	CategoryDiploma     Category = "diploma"
	CategoryInternship  Category = "internship"
	CategoryWorksheet   Category = "worksheet"
	CategoryMasterclass Category = "masterclass"
	CategoryPreRecorded Category = "pre_recorded"
)

// Tier is the internship duration plan.
type Tier string

const (
	TierUnspecified Tier = ""
	Tier120         Tier = "120"
	Tier240         Tier = "240"
)

// Key is a row in the points tables. Internships resolve to one of two keys.
type Key string

const (
	KeyCertificate   Key = "certificate"
	KeyDiploma       Key = "diploma"
	KeyInternship120 Key = "internship_120"
	KeyInternship240 Key = "internship_240"
	KeyWorksheet     Key = "worksheet"
	KeyMasterclass   Key = "masterclass"
	KeyPreRecorded   Key = "pre_recorded"
)

var ErrUnknownCategory = errors.New("unknown course type")

var earnPoints = map[Key]int{
	KeyCertificate:   120,
	KeyDiploma:       300,
	KeyInternship120: 200,
	KeyInternship240: 400,
	KeyWorksheet:     20,
	KeyMasterclass:   150,
	KeyPreRecorded:   60,
}

var redeemPoints = map[Key]int{
	KeyCertificate:   600,
	KeyDiploma:       1500,
	KeyInternship120: 1000,
	KeyInternship240: 2000,
	KeyWorksheet:     80,
	KeyMasterclass:   750,
	KeyPreRecorded:   300,
}

// Item is the part of a purchased or redeemable course the tables care about.
// Duration is the legacy free-text field, only consulted when Tier is unset.
type Item struct {
	Category Category
	Tier     Tier
	Duration string
}

// ParseCategory normalizes user or catalog input ("Pre-Recorded", "pre recorded").
func ParseCategory(s string) (Category, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	switch Category(norm) {
	case CategoryCertificate, CategoryDiploma, CategoryInternship,
		CategoryWorksheet, CategoryMasterclass, CategoryPreRecorded:
		return Category(norm), nil
	case "prerecorded":
		return CategoryPreRecorded, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// ParseTier accepts "120", "240", "internship_120" style values; anything else is unspecified.
func ParseTier(s string) Tier {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasSuffix(s, "120"):
		return Tier120
	case strings.HasSuffix(s, "240"):
		return Tier240
	}
	return TierUnspecified
}

// TierFromDuration is the back-compat shim for records that only carry the
// free-text duration. Ambiguous text degrades to the short tier.
func TierFromDuration(duration string) Tier {
	d := strings.ToLower(duration)
	switch {
	case strings.Contains(d, "120") || strings.Contains(d, "2 week"):
		return Tier120
	case strings.Contains(d, "240") || strings.Contains(d, "4 week"):
		return Tier240
	}
	return Tier120
}

// Resolve maps an item to its table key.
func Resolve(item Item) (Key, error) {
	switch item.Category {
	case CategoryInternship:
		tier := item.Tier
		if tier == TierUnspecified {
			tier = TierFromDuration(item.Duration)
		}
		if tier == Tier240 {
			return KeyInternship240, nil
		}
		return KeyInternship120, nil
	case CategoryCertificate, CategoryDiploma, CategoryWorksheet, CategoryMasterclass, CategoryPreRecorded:
		return Key(item.Category), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, item.Category)
}

// EarnPoints returns the points awarded for purchasing item, 0 for unknown categories.
func EarnPoints(item Item) int {
	k, err := Resolve(item)
	if err != nil {
		return 0
	}
	return earnPoints[k]
}

// RedeemPoints returns the points needed to redeem a coupon for item.
func RedeemPoints(item Item) (int, error) {
	k, err := Resolve(item)
	if err != nil {
		return 0, err
	}
	return redeemPoints[k], nil
}

// CourseType is the coupon scope for item. Internship coupons are tier
// specific because the two tiers are priced differently.
func CourseType(item Item) (string, error) {
	k, err := Resolve(item)
	if err != nil {
		return "", err
	}
	return string(k), nil
}

// CatalogEntry describes one redeemable key for the account UI.
type CatalogEntry struct {
	Key          Key      `json:"key"`
	Category     Category `json:"category"`
	Tier         Tier     `json:"tier,omitempty"`
	EarnPoints   int      `json:"earn_points"`
	RedeemPoints int      `json:"redeem_points"`
}

// Catalog lists every table key sorted by redemption cost.
func Catalog() []CatalogEntry {
	out := make([]CatalogEntry, 0, len(redeemPoints))
	for k, cost := range redeemPoints {
		e := CatalogEntry{Key: k, Category: Category(k), EarnPoints: earnPoints[k], RedeemPoints: cost}
		switch k {
		case KeyInternship120:
			e.Category, e.Tier = CategoryInternship, Tier120
		case KeyInternship240:
			e.Category, e.Tier = CategoryInternship, Tier240
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RedeemPoints != out[j].RedeemPoints {
			return out[i].RedeemPoints < out[j].RedeemPoints
		}
		return out[i].Key < out[j].Key
	})
	return out
}
