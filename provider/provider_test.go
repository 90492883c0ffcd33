package provider

import (
	"testing"
	"time"
)

func TestExpiry(t *testing.T) {
	now := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)

	c := &Context{}
	if got, want := c.IDTokenExpiry(now), now.Add(time.Hour); !got.Equal(want) {
		t.Errorf("want default id token expiry %s, got %s", want, got)
	}
	if got := c.RequestCacheExpiry(now); got == nil || !got.Equal(now.Add(30*24*time.Hour)) {
		t.Errorf("want request cache expiry 30 days out, got %v", got)
	}

	c = &Context{IDTokenLifespan: 5 * time.Minute, RequestCacheLifespan: time.Minute}
	if got, want := c.IDTokenExpiry(now), now.Add(5*time.Minute); !got.Equal(want) {
		t.Errorf("want id token expiry %s, got %s", want, got)
	}
	if got := c.RequestCacheExpiry(now); got == nil || !got.Equal(now.Add(time.Minute)) {
		t.Errorf("want request cache expiry in a minute, got %v", got)
	}

	c = &Context{RequestCacheLifespan: -1}
	if got := c.RequestCacheExpiry(now); got != nil {
		t.Errorf("negative lifespan should never expire, got %v", got)
	}
}
