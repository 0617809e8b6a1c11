package main

import (
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"GSQLCore/config"
)

// Every config key can be set from the command line: page_size is
// --page-size, log.level is --log-level.
func TestFlagsCoverConfig(t *testing.T) {
	var names []string
	var walk func(prefix string, typ reflect.Type)
	walk = func(prefix string, typ reflect.Type) {
		for i := 0; i < typ.NumField(); i++ {
			f := typ.Field(i)
			name := prefix + f.Tag.Get("koanf")
			if f.Type.Kind() == reflect.Struct {
				walk(name+"_", f.Type)
				continue
			}
			names = append(names, strings.ReplaceAll(name, "_", "-"))
		}
	}
	walk("", reflect.TypeOf(config.Config{}))

	assert.Contains(t, names, "wal-cache-bytes")
	for _, name := range names {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "no flag for %s", name)
	}
}
