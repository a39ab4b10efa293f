//go:build dctransport_test

package secret

// Building with -tags dctransport_test allows Config.DisableDedup, per
// spec §9 Open Question #1: whether dedup should be disableable for
// testing is left to implementations, so we require an explicit,
// discouraged escape hatch rather than leaving it silently possible in
// production builds.
func init() {
	dedupDisableAllowed = true
}
