package persist

import (
	"strings"

	"github.com/google/uuid"

	"github.com/shaban/fxhost/chain"
	"github.com/shaban/fxhost/plugins"
)

// Store keys.
const (
	KeyPluginList  = "pluginList"
	KeyActive      = "pluginListActive"
	KeyBlacklist   = "pluginBlacklist"
	KeySearchPaths = "pluginSearchPaths"

	PrefixOrder  = "plugin_order_"
	PrefixBypass = "plugin_bypass_"
	PrefixState  = "plugin_state_"
)

// SearchPathSeparator joins search paths under KeySearchPaths.
const SearchPathSeparator = ";"

const identitySep = "#"

var entryPrefixes = []string{PrefixOrder, PrefixBypass, PrefixState}

// Identity returns the persisted identity of an entry: its plugin key and entry ID.
func Identity(e chain.Entry) string {
	return string(e.Key) + identitySep + e.ID
}

// ParseIdentity splits an identity into key and entry ID. Identities written without
// an entry ID (bare keys and legacy name:version forms) return ok=false and the
// whole string as key.
func ParseIdentity(id string) (key plugins.Key, entryID string, ok bool) {
	i := strings.LastIndex(id, identitySep)
	if i < 0 {
		return plugins.Key(id), "", false
	}
	if _, err := uuid.Parse(id[i+1:]); err != nil {
		return plugins.Key(id), "", false
	}
	return plugins.Key(id[:i]), id[i+1:], true
}

func orderKey(id string) string  { return PrefixOrder + id }
func bypassKey(id string) string { return PrefixBypass + id }
func stateKey(id string) string  { return PrefixState + id }
