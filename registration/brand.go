// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registration

import (
	"fmt"

	"github.com/bureau-foundation/provision/gateway"
)

// BrandImageSize is the preferred variant of a server's logo, smallest
// to largest.
type BrandImageSize int

const (
	BrandImageVector BrandImageSize = iota
	BrandImageSmall
	BrandImageMedium
	BrandImageLarge
	BrandImageHD
)

var brandImageFields = [...]string{
	BrandImageVector: "brand-image-vector",
	BrandImageSmall:  "brand-image-small",
	BrandImageMedium: "brand-image-medium",
	BrandImageLarge:  "brand-image-large",
	BrandImageHD:     "brand-image-hd",
}

func (s BrandImageSize) String() string {
	if s < BrandImageVector || s > BrandImageHD {
		return "unknown"
	}
	return brandImageFields[s][len("brand-image-"):]
}

// ParseBrandImageSize reads the String form of a size.
func ParseBrandImageSize(name string) (BrandImageSize, error) {
	for size := BrandImageVector; size <= BrandImageHD; size++ {
		if size.String() == name {
			return size, nil
		}
	}
	return 0, fmt.Errorf("registration: unknown brand image size %q", name)
}

// resolveBrandImage picks the brand image URL closest to size: the
// exact tier, then smaller raster tiers (never the vector image), then
// larger ones. A reply without any brand image yields "".
func resolveBrandImage(reply *gateway.Reply, size BrandImageSize) string {
	size = min(max(size, BrandImageVector), BrandImageHD)
	if url := reply.Value(brandImageFields[size]); url != "" {
		return url
	}
	for tier := size - 1; tier > BrandImageVector; tier-- {
		if url := reply.Value(brandImageFields[tier]); url != "" {
			return url
		}
	}
	for tier := size + 1; tier <= BrandImageHD; tier++ {
		if url := reply.Value(brandImageFields[tier]); url != "" {
			return url
		}
	}
	return ""
}
