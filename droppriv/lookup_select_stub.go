//go:build !linux

package droppriv

func buildLookupChain() LookupStrategy {
	return NewChainedStrategy(NewGoLookup())
}
