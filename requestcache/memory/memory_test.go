package memory

import (
	"context"
	"testing"

	"github.com/pardot/oidcop/requestcache"
)

func TestCache(t *testing.T) {
	ctx := context.Background()

	c := New()
	requestcache.Test(ctx, t, c)

	if c.Len() != 0 {
		t.Errorf("want all entries evicted, %d remain", c.Len())
	}
}
