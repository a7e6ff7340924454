package entitlements

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind is the type of record a purchase applies to.
type Kind string

const (
	KindListing Kind = "listing"
	KindBanner  Kind = "banner"
)

type Tier string

const (
	TierBasic    Tier = "basic"
	TierFeatured Tier = "featured"
	TierPremium  Tier = "premium"
	TierTop      Tier = "top"

	PackageBannerWeek  Tier = "banner_week"
	PackageBannerMonth Tier = "banner_month"
)

var ErrUnknownTier = errors.New("unknown tier")

// Offer is a purchasable entitlement: what the payer gets and what it costs.
type Offer struct {
	Kind  Kind
	Tier  Tier
	Days  int
	Price int64 // minor units (Rappen)
}

var catalogue = map[Kind]map[Tier]Offer{
	KindListing: {
		TierFeatured: {Kind: KindListing, Tier: TierFeatured, Days: 14, Price: 1490},
		TierPremium:  {Kind: KindListing, Tier: TierPremium, Days: 30, Price: 2990},
		TierTop:      {Kind: KindListing, Tier: TierTop, Days: 60, Price: 9900},
	},
	KindBanner: {
		PackageBannerWeek:  {Kind: KindBanner, Tier: PackageBannerWeek, Days: 7, Price: 4900},
		PackageBannerMonth: {Kind: KindBanner, Tier: PackageBannerMonth, Days: 30, Price: 14900},
	},
}

// NormalizeTier lowercases and trims user input. Unknown values map to basic.
func NormalizeTier(tier string) Tier {
	t := Tier(strings.ToLower(strings.TrimSpace(tier)))
	for _, offers := range catalogue {
		if _, ok := offers[t]; ok {
			return t
		}
	}
	return TierBasic
}

// Lookup returns the offer for a tier of the given kind.
func Lookup(kind Kind, tier string) (Offer, error) {
	offers, ok := catalogue[kind]
	if !ok {
		return Offer{}, fmt.Errorf("%w: kind %q", ErrUnknownTier, kind)
	}
	t := Tier(strings.ToLower(strings.TrimSpace(tier)))
	offer, ok := offers[t]
	if !ok {
		return Offer{}, fmt.Errorf("%w: %s/%s", ErrUnknownTier, kind, tier)
	}
	return offer, nil
}

// Offers lists the catalogue of a kind ordered by price.
func Offers(kind Kind) []Offer {
	out := make([]Offer, 0, len(catalogue[kind]))
	for _, o := range catalogue[kind] {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}

// Expiry computes the end of an entitlement window applied at now.
// A still-running window of the same tier is extended instead of restarted.
func Expiry(now time.Time, currentTier Tier, currentExpiry *time.Time, newTier Tier, days int) time.Time {
	start := now.UTC()
	if currentExpiry != nil && currentExpiry.After(start) && currentTier == newTier {
		start = currentExpiry.UTC()
	}
	return start.AddDate(0, 0, days)
}
