package progress

import (
	"fmt"
	"strconv"
	"strings"

	"lorevault/internal/storage"
)

// Tier says how much a reference can be trusted to identify content.
type Tier string

const (
	// TierStrong references are digests of sampled content.
	TierStrong Tier = "strong"
	// TierWeak references are built from metadata only; two files with the
	// same size and modification time collide.
	TierWeak Tier = "weak"
	// TierLegacy is the bare record id used before versioned references.
	TierLegacy Tier = "legacy"
)

const (
	strongPrefix = "v2:sha256:"
	weakPrefix   = "v2:meta:"
)

// Reference identifies a video's content across re-imports.
type Reference struct {
	Value string `json:"reference"`
	Tier  Tier   `json:"tier"`
}

func strongReference(hexDigest string) Reference {
	return Reference{Value: strongPrefix + hexDigest, Tier: TierStrong}
}

func weakReference(v storage.Video) Reference {
	return Reference{
		Value: fmt.Sprintf("%s%s:%d:%d", weakPrefix, v.StorageKind, v.SizeBytes, v.LastModifiedMs),
		Tier:  TierWeak,
	}
}

// ParseReference classifies a reference string read back from a ledger.
// Anything without a v2 prefix is taken as a legacy record id.
func ParseReference(s string) (Reference, error) {
	switch {
	case strings.HasPrefix(s, strongPrefix):
		digest := strings.TrimPrefix(s, strongPrefix)
		if len(digest) != 64 || strings.Trim(digest, "0123456789abcdef") != "" {
			return Reference{}, fmt.Errorf("malformed digest reference %q", s)
		}
		return Reference{Value: s, Tier: TierStrong}, nil
	case strings.HasPrefix(s, weakPrefix):
		parts := strings.Split(strings.TrimPrefix(s, weakPrefix), ":")
		if len(parts) != 3 || !storage.StorageKind(parts[0]).Valid() {
			return Reference{}, fmt.Errorf("malformed metadata reference %q", s)
		}
		for _, n := range parts[1:] {
			if _, err := strconv.ParseInt(n, 10, 64); err != nil {
				return Reference{}, fmt.Errorf("malformed metadata reference %q", s)
			}
		}
		return Reference{Value: s, Tier: TierWeak}, nil
	case strings.HasPrefix(s, "v2:"):
		return Reference{}, fmt.Errorf("unknown reference scheme %q", s)
	case s == "":
		return Reference{}, fmt.Errorf("empty reference")
	}
	return Reference{Value: s, Tier: TierLegacy}, nil
}
