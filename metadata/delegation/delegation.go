// Package delegation walks a targets delegation graph to find the role
// authoritative for a given target path. It replaces the stub
// preOrderDepthFirstWalk the update workflow used to carry (an empty loop
// that always returned nil, nil) with a real pre-order depth-first
// traversal, grounded on tough's glob-based path matching
// (schema::DelegatedRole::target_is_delegated).
package delegation

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"

	"github.com/trustedupdates/tufcore/metadata"
)

// Fetch is called once per role visited during the walk: it must return the
// role's targets metadata (verified and trusted), or an error if it
// couldn't be loaded/verified. A nil, nil return means the role could not
// be loaded but the walk should not fail outright (used by the teacher's
// existing "targets not found is not automatically fatal" handling).
type Fetch func(roleName, delegatorName string) (*metadata.Metadata[metadata.TargetsType], error)

// Resolve performs a pre-order depth-first walk of the delegation graph
// rooted at top, looking for targetPath. It visits a role's own Targets map
// before descending into its delegations (pre-order), fails closed with
// ErrDelegationCycle if a role name is reached twice in the same walk, and
// stops the entire search once a terminating role's own subtree has been
// fully searched without a match.
func Resolve(top *metadata.Metadata[metadata.TargetsType], targetPath string, maxDelegations int, fetch Fetch) (*metadata.TargetFiles, error) {
	if tf, ok := top.Signed.Targets[targetPath]; ok {
		tf.Path = targetPath
		return &tf, nil
	}
	if top.Signed.Delegations == nil {
		return nil, nil
	}

	visited := map[string]bool{metadata.TARGETS: true}
	tf, _, err := visitRoles(top.Signed.Delegations.Roles, metadata.TARGETS, targetPath, maxDelegations, visited, fetch)
	return tf, err
}

// visitRoles walks roles in order, recursing into each role's own
// delegations before moving on to its next sibling (pre-order). The second
// return value reports whether the caller must stop the whole search: once
// a terminating role's own subtree has been fully searched without a match,
// no sibling of that role, nor any sibling of its ancestors, may claim
// authority over targetPath either.
func visitRoles(roles []metadata.DelegatedRole, delegator, targetPath string, maxDelegations int, visited map[string]bool, fetch Fetch) (*metadata.TargetFiles, bool, error) {
	for _, role := range roles {
		if len(visited) > maxDelegations {
			return nil, true, metadata.ErrRepository{Msg: "exceeded max number of delegations"}
		}
		if visited[role.Name] {
			return nil, true, metadata.ErrDelegationCycle{Role: role.Name}
		}
		if !isDelegatedPath(role, targetPath) {
			continue
		}
		visited[role.Name] = true

		roleMeta, err := fetch(role.Name, delegator)
		if err != nil {
			return nil, true, err
		}
		if roleMeta == nil {
			continue
		}
		if tf, ok := roleMeta.Signed.Targets[targetPath]; ok {
			tf.Path = targetPath
			return &tf, false, nil
		}

		if roleMeta.Signed.Delegations != nil {
			tf, stop, err := visitRoles(roleMeta.Signed.Delegations.Roles, role.Name, targetPath, maxDelegations, visited, fetch)
			if err != nil {
				return nil, true, err
			}
			if tf != nil {
				return tf, false, nil
			}
			if stop {
				return nil, true, nil
			}
		}

		if role.Terminating {
			// the subtree rooted at role has been fully searched with no
			// match: no descendant of a terminating delegation may claim
			// authority over a path once the terminating role's own
			// delegation graph has rejected it.
			return nil, true, nil
		}
	}
	return nil, false, nil
}

// isDelegatedPath reports whether role has authority over targetFilepath,
// per either its "paths" glob patterns or its "path_hash_prefixes". Unlike
// the teacher's version, every entry in Paths is checked, not just the
// first, and PathHashPrefixes is implemented rather than stubbed.
func isDelegatedPath(role metadata.DelegatedRole, targetFilepath string) bool {
	if len(role.PathHashPrefixes) > 0 {
		digest := hexSHA256(targetFilepath)
		for _, prefix := range role.PathHashPrefixes {
			if strings.HasPrefix(digest, prefix) {
				return true
			}
		}
		return false
	}
	for _, pattern := range role.Paths {
		if globMatch(pattern, targetFilepath) {
			return true
		}
	}
	return false
}

var globCache sync.Map // pattern string -> *regexp.Regexp

// globMatch implements the glob semantics TUF path patterns use: "*"
// matches any run of characters except "/", "**" matches any run of
// characters including "/". Translated to an anchored regexp rather than
// path.Match, which only supports the single-star, no-"/" form.
func globMatch(pattern, name string) bool {
	re, ok := globCache.Load(pattern)
	if !ok {
		compiled := regexp.MustCompile("^" + globToRegexp(pattern) + "$")
		globCache.Store(pattern, compiled)
		re = compiled
	}
	return re.(*regexp.Regexp).MatchString(name)
}

func globToRegexp(pattern string) string {
	var b strings.Builder
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(string(runes[i])))
		}
	}
	return b.String()
}

func hexSHA256(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
