// Package adapters registers the adapters shipped with strata.
package adapters

import (
	"github.com/picklr-io/strata/adapters/athena"
	"github.com/picklr-io/strata/adapters/docker"
	"github.com/picklr-io/strata/adapters/null"
	"github.com/picklr-io/strata/internal/adapter"
)

// Builtin returns a registry with every built-in adapter registered.
func Builtin() *adapter.Registry {
	r := adapter.NewRegistry()
	r.Register(null.Name, null.Factory)
	r.Register(docker.Name, docker.Factory)
	r.Register(athena.Name, athena.Factory)
	return r
}
