package trust

// Decision is the outcome of validate_trust.
type Decision struct {
	Allowed        bool
	EffectiveTrust float64
	Path           []string
	Reason         string
}

// denied builds a denial outcome. attempt, if non-nil, is the best path
// considered even though it didn't clear policy, so spec §8's "denied
// with path and effective weight" scenario has something to report
// beyond a bare reason; it is nil only when no path of any kind reached
// trustee.
func denied(reason string, attempt *Decision) Decision {
	d := Decision{Allowed: false, Reason: reason}
	if attempt != nil {
		d.Path = attempt.Path
		d.EffectiveTrust = attempt.EffectiveTrust
	}
	return d
}

// FederationLookup resolves a DID to the federation it belongs to, for
// cross-federation bridge validation.
type FederationLookup func(did string) (federation string, ok bool)

// Validator bundles a Graph with the policy and bridges used to evaluate
// validate_trust.
type Validator struct {
	Graph      *Graph
	Policy     Policy
	Bridges    []Bridge
	Federation FederationLookup
}

// ValidateTrust implements the four-step algorithm of spec §4.6. When
// every step fails to clear policy, the denial still carries the
// strongest path any step found, per spec §8's "denied with path and
// effective weight" scenario.
func (v *Validator) ValidateTrust(trustor, trustee, context string) Decision {
	var bestAttempt *Decision

	// 1. Direct edge.
	if e, ok := v.Graph.GetEdge(context, trustor, trustee); ok {
		if e.Weight >= v.Policy.MinTrustLevel {
			return Decision{Allowed: true, EffectiveTrust: e.Weight, Path: []string{trustor, trustee}}
		}
		bestAttempt = &Decision{EffectiveTrust: e.Weight, Path: []string{trustor, trustee}}
	}

	// 2. Inherited trust via degraded multi-hop traversal.
	d, qualifies, attempt := v.bestInheritedPath(trustor, trustee, context)
	if qualifies {
		return d
	}
	bestAttempt = strongerAttempt(bestAttempt, attempt)

	// 3. Cross-federation bridges.
	if v.Policy.AllowCrossFederation && v.Federation != nil {
		d, qualifies, attempt := v.bestBridgedPath(trustor, trustee, context)
		if qualifies {
			return d
		}
		bestAttempt = strongerAttempt(bestAttempt, attempt)
	}

	// 4. No path satisfies policy.
	return denied("no trust path satisfies policy for this context", bestAttempt)
}

// strongerAttempt returns whichever of a/b has the higher EffectiveTrust,
// treating a nil candidate as absent.
func strongerAttempt(a, b *Decision) *Decision {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.EffectiveTrust > a.EffectiveTrust {
		return b
	}
	return a
}

// bestInheritedPath runs a depth-capped, cycle-safe DFS from trustor,
// multiplying DegradationFactor into the effective weight at each hop.
// It returns the highest-effective-trust path reaching trustee as d, with
// qualifies true only when that path clears both MinInheritedLevel and
// the policy minimum. attempt carries the same best path reached
// regardless of whether it qualifies, so a caller can still report it on
// denial; attempt is nil if no path reached trustee at all.
func (v *Validator) bestInheritedPath(trustor, trustee, context string) (d Decision, qualifies bool, attempt *Decision) {
	if v.Policy.MaxInheritanceDepth <= 0 {
		return Decision{}, false, nil
	}

	var bestQualified, bestAny Decision
	foundQualified, foundAny := false, false
	visited := map[string]bool{trustor: true}

	var walk func(node string, depth int, effective float64, path []string)
	walk = func(node string, depth int, effective float64, path []string) {
		if depth >= v.Policy.MaxInheritanceDepth {
			return
		}
		for _, e := range v.Graph.OutgoingEdges(node) {
			if e.Context != context || visited[e.To] {
				continue
			}
			next := effective * v.Policy.DegradationFactor * e.Weight
			if node == trustor {
				// first hop: start from the edge's own weight, not a
				// phantom 1.0 multiplier.
				next = e.Weight * v.Policy.DegradationFactor
			}
			nextPath := append(append([]string{}, path...), e.To)

			if e.To == trustee {
				if !foundAny || next > bestAny.EffectiveTrust {
					bestAny = Decision{EffectiveTrust: next, Path: nextPath}
					foundAny = true
				}

				threshold := v.Policy.MinInheritedLevel
				if v.Policy.MinTrustLevel > threshold {
					threshold = v.Policy.MinTrustLevel
				}
				if next >= threshold && (!foundQualified || next > bestQualified.EffectiveTrust) {
					bestQualified = Decision{Allowed: true, EffectiveTrust: next, Path: nextPath}
					foundQualified = true
				}
			}

			visited[e.To] = true
			walk(e.To, depth+1, next, nextPath)
			delete(visited, e.To)
		}
	}
	walk(trustor, 0, 1.0, []string{trustor})
	if foundAny {
		attempt = &bestAny
	}
	return bestQualified, foundQualified, attempt
}

// bestBridgedPath considers federation bridges when trustor and trustee
// belong to different federations. It mirrors bestInheritedPath's
// three-value contract: d/qualifies is the best bridge that clears
// policy, attempt is the best bridge considered (context-allowed and
// federation-matching) even if it fell short, for denial reporting.
func (v *Validator) bestBridgedPath(trustor, trustee, context string) (d Decision, qualifies bool, attempt *Decision) {
	fedFrom, okFrom := v.Federation(trustor)
	fedTo, okTo := v.Federation(trustee)
	if !okFrom || !okTo || fedFrom == fedTo {
		return Decision{}, false, nil
	}

	var bestQualified, bestAny Decision
	foundQualified, foundAny := false, false
	path := []string{trustor, "federation:" + fedFrom, "federation:" + fedTo, trustee}

	for _, b := range v.Bridges {
		if !b.matches(fedFrom, fedTo) || !b.allows(context) {
			continue
		}
		effective := b.BridgeDegradation
		if b.MaxBridgeTrust > 0 && effective > b.MaxBridgeTrust {
			effective = b.MaxBridgeTrust
		}

		if !foundAny || effective > bestAny.EffectiveTrust {
			bestAny = Decision{EffectiveTrust: effective, Path: path}
			foundAny = true
		}

		threshold := v.Policy.MinInheritedLevel
		if v.Policy.MinTrustLevel > threshold {
			threshold = v.Policy.MinTrustLevel
		}
		if effective < threshold {
			continue
		}
		if !foundQualified || effective > bestQualified.EffectiveTrust {
			bestQualified = Decision{Allowed: true, EffectiveTrust: effective, Path: path}
			foundQualified = true
		}
	}
	if foundAny {
		attempt = &bestAny
	}
	return bestQualified, foundQualified, attempt
}
