//go:build linux

package droppriv

var nssSwitchPath = "/etc/nsswitch.conf"

// buildLookupChain assembles the strategies this system supports.
// systemd-userdb goes first when present since its multiplexer
// already covers files and most other providers; the remaining
// strategies follow nsswitch.conf order; os/user is always the last
// resort.
func buildLookupChain() LookupStrategy {
	var strategies []LookupStrategy

	if userdb, err := NewUserDBStrategy(); err == nil {
		strategies = append(strategies, userdb)
	}

	methods, err := ParseNSSwitch(nssSwitchPath)
	if err != nil {
		methods = []NSSMethod{NSSMethodFiles}
	}

	haveSSSD := false
	for _, method := range methods {
		switch method {
		case NSSMethodSSS:
			if haveSSSD {
				continue
			}
			if sssd, err := NewSSSDStrategy(); err == nil {
				strategies = append(strategies, sssd)
				haveSSSD = true
			}
		case NSSMethodFiles, NSSMethodCompat, NSSMethodSystemd:
			// files and compat are handled by the os/user fallback
			// below; systemd by the userdb strategy above.
		}
	}

	strategies = append(strategies, NewGoLookup())
	return NewChainedStrategy(strategies...)
}
