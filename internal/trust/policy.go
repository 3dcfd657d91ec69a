package trust

// Policy parameterizes validate_trust (spec §4.6).
type Policy struct {
	MinTrustLevel        float64
	MaxInheritanceDepth  int
	DegradationFactor    float64 // multiplied into effective weight per inheritance hop
	MinInheritedLevel    float64
	AllowCrossFederation bool
}

// Bridge is a cross-federation trust link: trust earned within
// FromFederation carries into ToFederation at a degraded rate, subject to
// context and ceiling restrictions.
type Bridge struct {
	FromFederation    string
	ToFederation      string
	BridgeDegradation float64
	AllowedContexts   map[string]bool // empty/nil means all contexts allowed
	MaxBridgeTrust    float64
	Bidirectional     bool
}

func (b Bridge) allows(context string) bool {
	if len(b.AllowedContexts) == 0 {
		return true
	}
	return b.AllowedContexts[context]
}

// matches reports whether this bridge connects from and to, honoring
// Bidirectional.
func (b Bridge) matches(from, to string) bool {
	if b.FromFederation == from && b.ToFederation == to {
		return true
	}
	return b.Bidirectional && b.FromFederation == to && b.ToFederation == from
}
