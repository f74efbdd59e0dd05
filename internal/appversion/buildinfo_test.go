package appversion_test

import (
	"testing"

	"github.com/s-hiraoku/synapse-a2a-sub002/internal/appversion"
)

func TestVersionIsSet(t *testing.T) {
	t.Parallel()

	v := appversion.String()
	if v == "" {
		t.Fatal("version.String() must not be empty")
	}
}
