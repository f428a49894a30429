package util_test

import (
	"sort"
	"testing"
	"time"

	"github.com/jmehdipour/dm-dispatcher/internal/util"
	"github.com/m-mizutani/gt"
)

func TestNormalizeHandle(t *testing.T) {
	cases := map[string]string{
		" @Some.User ": "some.user",
		"alice":        "alice",
		"@@x":          "@x",
		"":             "",
	}
	for in, want := range cases {
		gt.Equal(t, util.NormalizeHandle(in), want)
	}
}

func TestValidHandle(t *testing.T) {
	gt.True(t, util.ValidHandle("some.user_1"))
	gt.False(t, util.ValidHandle(""))
	gt.False(t, util.ValidHandle("has space"))
	gt.False(t, util.ValidHandle("@x"))
	gt.False(t, util.ValidHandle("abcdefghijklmnopqrstuvwxyz012345"))
}

func TestNewIDMonotonicWithinMillisecond(t *testing.T) {
	now := time.Now()
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = util.NewIDAt(now)
	}
	gt.True(t, sort.StringsAreSorted(ids))
	gt.Equal(t, len(ids[0]), 26)
	gt.True(t, ids[0] != ids[99])
}
